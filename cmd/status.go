package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hrabal/negsort/internal/config"
	"github.com/hrabal/negsort/internal/progress"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the worker's last-written progress snapshot",
	Long: `status reads progress.json and worker_heartbeat.json straight off
disk under HOT_ROOT/state — the same files a running worker mirrors its state
to — without touching either database. A missing heartbeat file means no
worker has run yet against this state directory.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if cfg.Paths.HotRoot == "" {
		return fmt.Errorf("HOT_ROOT is required")
	}
	stateDir := filepath.Join(cfg.Paths.HotRoot, "state")

	var st progress.State
	if err := readJSONFile(filepath.Join(stateDir, "progress.json"), &st); err != nil {
		return fmt.Errorf("read progress.json: %w", err)
	}

	fmt.Printf("progress:     %d / %d images (%.2f%%)\n", st.ProcessedImages, st.TotalImages, st.CompletionPercent)
	if st.CurrentBatchID != nil {
		fmt.Printf("batch:        %d (%s) %s\n", *st.CurrentBatchID, st.CurrentBatchState, st.CurrentImageRange)
	}
	fmt.Printf("rate:         %.2f images/sec, %.0fs remaining\n", st.ImagesPerSecond, st.EstimatedRemainingSecs)
	if st.LastCommittedImage != "" {
		fmt.Printf("last commit:  %s -> %s at %s\n", st.LastCommittedImage, st.LastCommittedPerson, st.LastCommittedTime)
	}
	fmt.Printf("updated at:   %s\n", st.UpdatedAt)

	var hb progress.Heartbeat
	if err := readJSONFile(filepath.Join(stateDir, "worker_heartbeat.json"), &hb); err != nil {
		fmt.Println("worker:       no heartbeat recorded yet")
		return nil
	}
	fmt.Printf("worker:       pid %d, %s as of %s\n", hb.PID, hb.Status, hb.Timestamp)
	return nil
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
