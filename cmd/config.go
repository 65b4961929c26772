package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hrabal/negsort/internal/config"
	"github.com/hrabal/negsort/internal/store"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read and write the job_config singleton",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current job configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set the source/output roots and routing options for the next job",
	Long: `set overwrites the job_config singleton row. source-root and
output-root are required the first time; persons and group-folder default to
"match every registered person" and "no group folder" when omitted.`,
	RunE: runConfigSet,
}

var configControlCmd = &cobra.Command{
	Use:   "control <run|stop|terminate>",
	Short: "Set the control signal a running worker polls for",
	Long: `control sets job_config.control. "stop" lets the worker finish its
current batch through COMMITTED, then halt. "terminate" additionally aborts
the current batch's PROCESSING phase before the next image starts, resetting
that batch back to PENDING; any commit rows it already wrote in COMMITTING
are still allowed to finish.`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigControl,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configSetCmd, configControlCmd)

	configSetCmd.Flags().String("source-root", "", "Read-only source tree to discover images under")
	configSetCmd.Flags().String("output-root", "", "Append-only output tree to route matched images into")
	configSetCmd.Flags().String("persons", "", "Comma-separated person IDs to match against (empty = every registered person)")
	configSetCmd.Flags().Bool("group-mode", false, "Route images matching every selected person to a single group folder")
	configSetCmd.Flags().String("group-folder", "", "Group folder name, relative to output-root, used when group-mode is set")
}

func connectStore(ctx context.Context) (*store.Store, func(), error) {
	cfg := config.Load()
	if cfg.Store.URL == "" {
		return nil, nil, fmt.Errorf("STORE_DATABASE_URL is required")
	}

	pool, err := store.NewPool(&cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to store database: %w", err)
	}
	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate store schema: %w", err)
	}
	closeFn := func() { _ = pool.Close() }
	return store.New(pool), closeFn, nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, closeStore, err := connectStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	cfg, err := s.GetJobConfig(ctx)
	if err != nil {
		return fmt.Errorf("read job config: %w", err)
	}

	fmt.Printf("source_root:       %s\n", cfg.SourceRoot)
	fmt.Printf("output_root:       %s\n", cfg.OutputRoot)
	if len(cfg.SelectedPersonIDs) == 0 {
		fmt.Println("selected_persons:  (all)")
	} else {
		fmt.Printf("selected_persons:  %v\n", cfg.SelectedPersonIDs)
	}
	fmt.Printf("group_mode:        %v\n", cfg.GroupMode)
	fmt.Printf("group_folder_name: %s\n", cfg.GroupFolderName)
	fmt.Printf("control:           %s\n", cfg.Control)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, closeStore, err := connectStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	existing, err := s.GetJobConfig(ctx)
	if err != nil {
		return fmt.Errorf("read existing job config: %w", err)
	}

	sourceRoot := mustGetString(cmd, "source-root")
	if sourceRoot == "" {
		sourceRoot = existing.SourceRoot
	}
	outputRoot := mustGetString(cmd, "output-root")
	if outputRoot == "" {
		outputRoot = existing.OutputRoot
	}
	if sourceRoot == "" || outputRoot == "" {
		return fmt.Errorf("--source-root and --output-root are required the first time config is set")
	}

	personIDs, err := parsePersonIDs(mustGetString(cmd, "persons"))
	if err != nil {
		return err
	}

	cfg := &store.JobConfig{
		SourceRoot:        sourceRoot,
		OutputRoot:        outputRoot,
		SelectedPersonIDs: personIDs,
		GroupMode:         mustGetBool(cmd, "group-mode"),
		GroupFolderName:   mustGetString(cmd, "group-folder"),
		Control:           store.ControlRun,
	}
	if err := s.SetJobConfig(ctx, cfg); err != nil {
		return fmt.Errorf("set job config: %w", err)
	}
	fmt.Println("job config updated")
	return nil
}

func runConfigControl(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, closeStore, err := connectStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	control := store.Control(args[0])
	switch control {
	case store.ControlRun, store.ControlStop, store.ControlTerminate:
	default:
		return fmt.Errorf("invalid control signal %q (want run, stop, or terminate)", args[0])
	}

	if err := s.SetControl(ctx, control); err != nil {
		return fmt.Errorf("set control: %w", err)
	}
	fmt.Printf("control set to %s\n", control)
	return nil
}

func parsePersonIDs(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid person id %q: %w", p, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
