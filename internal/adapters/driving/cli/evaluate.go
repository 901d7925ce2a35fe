package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-chat/internal/evaluation"
)

var (
	evaluateK    int
	evaluateJSON bool
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate [cases.json]",
	Short: "Score retrieval and answer groundedness",
	Long: `Runs labelled queries against the default index.

The cases file is a JSON array of {"query", "gold_texts"} objects.
Relevance is Hit@k over the gold chunk texts. Groundedness is the highest
cosine similarity between a generated answer and its retrieved chunks,
and is skipped when no generator is configured.`,
	Args: cobra.ExactArgs(1),
	RunE: runEvaluate,
}

func init() {
	evaluateCmd.Flags().IntVarP(&evaluateK, "top-k", "k", evaluation.DefaultK, "retrieval depth")
	evaluateCmd.Flags().BoolVar(&evaluateJSON, "json", false, "output the full report as JSON")
	rootCmd.AddCommand(evaluateCmd)
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cases, err := evaluation.LoadCases(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ev := &evaluation.Evaluator{
		Retriever: a.Retriever,
		Generator: a.Services.TextGenerator(),
		Embedder:  a.Services.EmbeddingService(),
		K:         evaluateK,
		Logger:    a.Logger.With("component", "evaluation"),
	}
	report, err := ev.Run(ctx, cases)
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	if evaluateJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}
	cmd.Print(report.String())
	return nil
}
