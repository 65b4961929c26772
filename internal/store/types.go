package store

import "time"

// JobStatus enumerates the lifecycle states of a Job.
type JobStatus string

const (
	JobCreated           JobStatus = "created"
	JobRunning           JobStatus = "running"
	JobCompleted         JobStatus = "completed"
	JobStopped           JobStatus = "stopped"
	JobFailed            JobStatus = "failed"
	JobWaitingForConfig  JobStatus = "waiting_for_config"
)

// BatchState enumerates the states of the batch state machine.
type BatchState string

const (
	BatchPending    BatchState = "PENDING"
	BatchProcessing BatchState = "PROCESSING"
	BatchCommitting BatchState = "COMMITTING"
	BatchCommitted  BatchState = "COMMITTED"
)

// CommitStatus enumerates the states of a single commit-log row.
type CommitStatus string

const (
	CommitPending  CommitStatus = "pending"
	CommitWritten  CommitStatus = "written"
	CommitVerified CommitStatus = "verified"
	CommitFailed   CommitStatus = "failed"
)

// Control enumerates the operator-visible control signal.
type Control string

const (
	ControlRun       Control = "run"
	ControlStop      Control = "stop"
	ControlTerminate Control = "terminate"
)

// JobConfig is the singleton configuration row.
type JobConfig struct {
	SourceRoot        string
	OutputRoot        string
	SelectedPersonIDs []int64 // nil means "all persons"
	GroupMode         bool
	GroupFolderName   string
	Control           Control
	UpdatedAt         time.Time
}

// Job is a single ingest-through-completion run.
type Job struct {
	JobID           int64
	SourceRoot      string
	OutputRoot      string
	TotalImages     int
	ProcessedImages int
	Status          JobStatus
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// Image is one discovered source file.
type Image struct {
	ImageID     int64
	JobID       int64
	SourcePath  string
	Filename    string
	Extension   string
	SHA256      string
	OrderingIdx int
}

// Batch is one fixed-width slice of the job's image range.
type Batch struct {
	BatchID     int64
	JobID       int64
	StartIdx    int
	EndIdx      int
	State       BatchState
	CreatedAt   time.Time
	StartedAt   *time.Time
	CommittedAt *time.Time
}

// ImageResult is the outcome of running an image through the analyzer and matcher.
type ImageResult struct {
	ImageID           int64
	BatchID           int64
	FaceCount         int
	MatchedCount      int
	UnknownCount      int
	MatchedPersonIDs  []int64
}

// CommitRow is one planned or executed fan-out copy.
type CommitRow struct {
	CommitID       int64
	BatchID        int64
	ImageID        int64
	PersonID       *int64 // nil for the group-folder row
	OutputFilename string
	OutputPath     string
	Status         CommitStatus
	CreatedAt      time.Time
	VerifiedAt     *time.Time
}
