package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-chat/internal/chunker"
	"github.com/custodia-labs/sercha-chat/internal/config"
	"github.com/custodia-labs/sercha-chat/internal/extractors"
)

var (
	chunkOut          string
	chunkMaxSentences int
)

var chunkCmd = &cobra.Command{
	Use:   "chunk [file]",
	Short: "Split a document into sentence chunks",
	Long: `Extracts the text of a document and groups its sentences into chunks.

Supported formats are plain text, markdown, HTML and PDF (PDF needs
pdftotext). Chunks are written as a JSON array of {id, text} records,
to stdout unless --out is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runChunk,
}

func init() {
	chunkCmd.Flags().StringVarP(&chunkOut, "out", "o", "", "write chunks to this file")
	chunkCmd.Flags().IntVarP(&chunkMaxSentences, "max-sentences", "n", 0, "sentences per chunk (default from config)")
	rootCmd.AddCommand(chunkCmd)
}

func runChunk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	maxSentences := chunkMaxSentences
	if maxSentences == 0 {
		maxSentences = cfg.Chunker.MaxSentences
	}

	c := chunker.New(chunker.WithLogger(config.NewLogger(cfg.Logging)))
	chunks, err := c.ChunkFile(cmd.Context(), extractors.DefaultRegistry(), args[0], maxSentences)
	if err != nil {
		return fmt.Errorf("failed to chunk %s: %w", args[0], err)
	}

	if chunkOut == "" {
		data, err := json.MarshalIndent(chunks, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal chunks: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	if err := chunker.SaveChunks(chunkOut, chunks); err != nil {
		return err
	}
	cmd.Printf("Wrote %d chunks to %s\n", len(chunks), chunkOut)
	return nil
}
