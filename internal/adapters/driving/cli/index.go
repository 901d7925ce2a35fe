package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-chat/internal/chunker"
)

var (
	indexName   string
	indexAppend bool
)

var buildIndexCmd = &cobra.Command{
	Use:   "build-index [chunks.json]",
	Short: "Embed chunks and publish them as a vector index",
	Long: `Reads a chunks file written by "chunk", embeds every chunk and publishes
the result as a new version of the index. With --append the chunks are
added to the current version instead of replacing it.`,
	Args: cobra.ExactArgs(1),
	RunE: runBuildIndex,
}

func init() {
	buildIndexCmd.Flags().StringVarP(&indexName, "index", "i", "", "index name (default from config)")
	buildIndexCmd.Flags().BoolVar(&indexAppend, "append", false, "append to the existing index")
	rootCmd.AddCommand(buildIndexCmd)
}

func runBuildIndex(cmd *cobra.Command, args []string) error {
	chunks, err := chunker.LoadChunks(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	name := indexName
	if name == "" {
		name = a.Config.Index
	}
	info, err := a.Ingest.BuildIndex(ctx, name, chunks, indexAppend)
	if err != nil {
		return fmt.Errorf("failed to build index: %w", err)
	}

	cmd.Printf("Index %s: %d chunks, %d dimensions (version %d)\n", info.Name, info.Count, info.Dimension, info.Version)
	return nil
}
