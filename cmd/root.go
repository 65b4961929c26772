package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "negsort",
	Short: "A crash-safe batch engine that sorts photos into per-person folders by face match",
	Long: `negsort discovers photographs under a read-only source tree, detects and
matches faces against a curated person registry, and fans out matched images
into an append-only output tree. Processing is organized into fixed-width
batches that commit atomically so the worker can be interrupted and resumed
without duplicating or corrupting output.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
