package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/hrabal/negsort/internal/analyzer"
	"github.com/hrabal/negsort/internal/config"
	"github.com/hrabal/negsort/internal/engine"
	"github.com/hrabal/negsort/internal/ingest"
	"github.com/hrabal/negsort/internal/matcher"
	"github.com/hrabal/negsort/internal/progress"
	"github.com/hrabal/negsort/internal/registry"
	"github.com/hrabal/negsort/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the batch engine until the job completes, stops, or is interrupted",
	Long: `run catalogs the source tree into a new job if none is active yet, then
drives the batch engine through every PENDING batch: detect and match faces,
fan matched images out to their destination folders, and commit.

A prior crash or an operator stop/terminate signal (set via "negsort config
control") is resumed or honored automatically. The command is safe to re-run
against the same database at any time.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	if cfg.Store.URL == "" {
		return fmt.Errorf("STORE_DATABASE_URL is required")
	}
	if cfg.Registry.URL == "" {
		return fmt.Errorf("REGISTRY_DATABASE_URL is required")
	}
	if cfg.Paths.HotRoot == "" {
		return fmt.Errorf("HOT_ROOT is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nreceived interrupt, finishing current step before halting...")
		cancel()
	}()

	storePool, err := store.NewPool(&cfg.Store)
	if err != nil {
		return fmt.Errorf("connect to store database: %w", err)
	}
	defer storePool.Close()
	if err := storePool.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store schema: %w", err)
	}
	s := store.New(storePool)

	regPool, err := registry.Connect(ctx, cfg.Registry.URL)
	if err != nil {
		return fmt.Errorf("connect to registry database: %w", err)
	}
	defer regPool.Close()
	if err := registry.Migrate(ctx, regPool); err != nil {
		return fmt.Errorf("migrate registry schema: %w", err)
	}
	reg := registry.New(regPool)

	job, err := s.GetActiveJob(ctx)
	if err != nil {
		return fmt.Errorf("check active job: %w", err)
	}
	if job == nil {
		job, err = startNewJob(ctx, s)
		if err != nil {
			return err
		}
	}

	jobCfg, err := s.GetJobConfig(ctx)
	if err != nil {
		return fmt.Errorf("read job config: %w", err)
	}

	m := matcher.New(reg, jobCfg.SelectedPersonIDs)
	a := analyzer.New(cfg.Analyzer.URL)

	stateDir := filepath.Join(cfg.Paths.HotRoot, "state")
	tempDir := filepath.Join(cfg.Paths.HotRoot, "temp")
	stagingDir := filepath.Join(cfg.Paths.HotRoot, "staging")

	e := engine.New(s, reg, m, a, job.OutputRoot, tempDir, stagingDir, stateDir, job.TotalImages)

	fmt.Printf("job %d: %d images cataloged, output root %s\n", job.JobID, job.TotalImages, job.OutputRoot)

	stopReporter := reportProgress(ctx, stateDir, job.TotalImages)
	defer stopReporter()

	if err := e.Run(ctx, job.JobID); err != nil {
		return fmt.Errorf("run engine: %w", err)
	}

	final, err := s.GetJob(ctx, job.JobID)
	if err != nil {
		return fmt.Errorf("read final job status: %w", err)
	}
	fmt.Printf("\njob %d finished: %s (%d/%d images processed)\n", final.JobID, final.Status, final.ProcessedImages, final.TotalImages)
	return nil
}

// startNewJob catalogs job_config's source_root into a fresh job. A job must
// always carry source_root/output_root from a prior "negsort config set"
// call; run never accepts path flags of its own.
func startNewJob(ctx context.Context, s *store.Store) (*store.Job, error) {
	jobCfg, err := s.GetJobConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("read job config (set source_root/output_root with `negsort config set` first): %w", err)
	}
	if jobCfg.SourceRoot == "" || jobCfg.OutputRoot == "" {
		return nil, fmt.Errorf("source_root and output_root must be set via `negsort config set` before the first run")
	}

	fmt.Printf("cataloging %s...\n", jobCfg.SourceRoot)
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("Hashing images"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
	)
	result, err := ingest.Run(ctx, s, jobCfg.SourceRoot, jobCfg.OutputRoot, func(done, total int) {
		bar.ChangeMax(total)
		_ = bar.Set(done)
	})
	if err != nil {
		return nil, fmt.Errorf("catalog source tree: %w", err)
	}
	fmt.Printf("\ncataloged %d images into %d batches\n", result.ImageCount, result.BatchCount)

	return s.GetJob(ctx, result.JobID)
}

// reportProgress polls progress.json every two seconds and mirrors it onto a
// terminal bar. The engine owns progress.json for an external tracker to
// read; this command is simply one more reader of it, not a privileged one.
func reportProgress(ctx context.Context, stateDir string, total int) func() {
	done := make(chan struct{})
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Processing"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if st, ok := readProgressState(stateDir); ok {
					_ = bar.Set(st.ProcessedImages)
				}
			}
		}
	}()

	return func() { close(done) }
}

func readProgressState(stateDir string) (progress.State, bool) {
	data, err := os.ReadFile(filepath.Join(stateDir, "progress.json"))
	if err != nil {
		return progress.State{}, false
	}
	var st progress.State
	if err := json.Unmarshal(data, &st); err != nil {
		return progress.State{}, false
	}
	return st, true
}
