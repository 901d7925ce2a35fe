package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-chat/internal/app"
	"github.com/custodia-labs/sercha-chat/internal/core/domain"
)

var (
	ingestIndex        string
	ingestMaxSentences int
	ingestAppend       bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Chunk, embed and index a document",
	Long: `Runs an INGEST job for a document and waits for it to finish.

The document is staged in the upload directory first; the original file
is left in place.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestIndex, "index", "i", "", "index name (default from config)")
	ingestCmd.Flags().IntVarP(&ingestMaxSentences, "max-sentences", "n", 0, "sentences per chunk (default from config)")
	ingestCmd.Flags().BoolVar(&ingestAppend, "append", false, "append to the existing index")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	staged, err := stageFile(args[0], a.Config.UploadDir)
	if err != nil {
		return err
	}

	if err := a.Start(ctx); err != nil {
		os.Remove(staged)
		return fmt.Errorf("failed to start workers: %w", err)
	}

	id, err := a.Ingest.Ingest(ctx, domain.IngestInput{
		Path:         staged,
		Index:        ingestIndex,
		MaxSentences: ingestMaxSentences,
		Append:       ingestAppend,
	})
	if err != nil {
		os.Remove(staged)
		return fmt.Errorf("failed to ingest: %w", err)
	}

	job, err := a.Await(ctx, id, app.DefaultPollInterval)
	if err != nil {
		return err
	}
	if job.State == domain.JobStateFailed {
		return fmt.Errorf("ingest job %s failed: %s", id, job.Error)
	}
	cmd.Println(job.Result)
	return nil
}
