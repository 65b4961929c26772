package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hrabal/negsort/internal/analyzer"
	"github.com/hrabal/negsort/internal/config"
	"github.com/hrabal/negsort/internal/decode"
	"github.com/hrabal/negsort/internal/registry"
)

const personJPEGQuality = 90

var personCmd = &cobra.Command{
	Use:   "person",
	Short: "Manage the person registry",
}

var personAddCmd = &cobra.Command{
	Use:   "add <display-name> <output-folder> <reference-image>",
	Short: "Register a new person from one reference photo",
	Long: `add detects the single dominant face in reference-image, embeds it, and
creates a person with that embedding as its reference. output-folder is the
path, relative to output_root, matched images are routed into.`,
	Args: cobra.ExactArgs(3),
	RunE: runPersonAdd,
}

var personLearnCmd = &cobra.Command{
	Use:   "learn <person-id> <image>",
	Short: "Add a learned embedding to an existing person",
	Args:  cobra.ExactArgs(2),
	RunE:  runPersonLearn,
}

var personListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every registered person",
	RunE:  runPersonList,
}

var personDeleteCmd = &cobra.Command{
	Use:   "delete <person-id>",
	Short: "Delete a person and every embedding belonging to them",
	Args:  cobra.ExactArgs(1),
	RunE:  runPersonDelete,
}

func init() {
	rootCmd.AddCommand(personCmd)
	personCmd.AddCommand(personAddCmd, personLearnCmd, personListCmd, personDeleteCmd)
}

func connectRegistry(ctx context.Context) (*registry.Repository, func(), error) {
	cfg := config.Load()
	if cfg.Registry.URL == "" {
		return nil, nil, fmt.Errorf("REGISTRY_DATABASE_URL is required")
	}

	pool, err := registry.Connect(ctx, cfg.Registry.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to registry database: %w", err)
	}
	if err := registry.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate registry schema: %w", err)
	}
	return registry.New(pool), pool.Close, nil
}

// embedSingleFace decodes path, posts it to the analyzer, and returns the
// embedding of its single highest-scoring face. Zero detected faces is an
// error; when several are detected, the highest-scoring one is used and a
// warning is printed to stderr.
func embedSingleFace(ctx context.Context, path string) ([]float32, error) {
	cfg := config.Load()
	a := analyzer.New(cfg.Analyzer.URL)

	res, err := decode.Decode(ctx, path, os.TempDir())
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	defer res.Cleanup()

	data, err := decode.EncodeJPEG(res.Image, personJPEGQuality)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", path, err)
	}

	faces, err := a.Detect(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("detect faces in %s: %w", path, err)
	}
	if len(faces) == 0 {
		return nil, fmt.Errorf("no face detected in %s", path)
	}

	best := faces[0]
	for _, f := range faces[1:] {
		if f.DetectScore > best.DetectScore {
			best = f
		}
	}
	if len(faces) > 1 {
		fmt.Fprintf(os.Stderr, "warning: %d faces detected in %s, using the highest-scoring one\n", len(faces), path)
	}
	return best.Embedding, nil
}

func runPersonAdd(cmd *cobra.Command, args []string) error {
	displayName, outputFolder, imagePath := args[0], args[1], args[2]
	ctx := cmd.Context()

	embedding, err := embedSingleFace(ctx, imagePath)
	if err != nil {
		return err
	}

	reg, closeReg, err := connectRegistry(ctx)
	if err != nil {
		return err
	}
	defer closeReg()

	personID, err := reg.AddPerson(ctx, displayName, outputFolder, embedding)
	if err != nil {
		return fmt.Errorf("add person: %w", err)
	}
	fmt.Printf("person %d: %s -> %s\n", personID, displayName, outputFolder)
	return nil
}

func runPersonLearn(cmd *cobra.Command, args []string) error {
	personID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid person id %q: %w", args[0], err)
	}
	imagePath := args[1]
	ctx := cmd.Context()

	embedding, err := embedSingleFace(ctx, imagePath)
	if err != nil {
		return err
	}

	reg, closeReg, err := connectRegistry(ctx)
	if err != nil {
		return err
	}
	defer closeReg()

	if err := reg.Learn(ctx, personID, embedding); err != nil {
		return fmt.Errorf("learn embedding for person %d: %w", personID, err)
	}
	fmt.Printf("added learned embedding to person %d\n", personID)
	return nil
}

func runPersonList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	reg, closeReg, err := connectRegistry(ctx)
	if err != nil {
		return err
	}
	defer closeReg()

	persons, err := reg.List(ctx)
	if err != nil {
		return fmt.Errorf("list persons: %w", err)
	}
	if len(persons) == 0 {
		fmt.Println("no persons registered")
		return nil
	}
	for _, p := range persons {
		fmt.Printf("%d\t%s\t%s\n", p.PersonID, p.DisplayName, p.OutputFolderRel)
	}
	return nil
}

func runPersonDelete(cmd *cobra.Command, args []string) error {
	personID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid person id %q: %w", args[0], err)
	}
	ctx := cmd.Context()

	s, closeStore, err := connectStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	referenced, err := s.PersonHasCommitRows(ctx, personID)
	if err != nil {
		return fmt.Errorf("check commit-log references for person %d: %w", personID, err)
	}
	if referenced {
		return fmt.Errorf("person %d has commit-log rows referencing them, refusing to delete", personID)
	}

	reg, closeReg, err := connectRegistry(ctx)
	if err != nil {
		return err
	}
	defer closeReg()

	if err := reg.Delete(ctx, personID); err != nil {
		return fmt.Errorf("delete person %d: %w", personID, err)
	}
	fmt.Printf("deleted person %d\n", personID)
	return nil
}
