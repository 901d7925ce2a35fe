package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-chat/internal/app"
	"github.com/custodia-labs/sercha-chat/internal/core/domain"
)

var (
	askSources bool
	askJSON    bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about the indexed documents",
	Long: `Retrieves the chunks nearest to the question, submits a GENERATE job
and waits for the answer.`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVarP(&askSources, "sources", "s", false, "print the retrieved chunks")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output the job as JSON")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	id, err := a.Chat.Ask(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to ask: %w", err)
	}
	job, err := a.Await(ctx, id, app.DefaultPollInterval)
	if err != nil {
		return err
	}

	if askJSON {
		data, err := json.MarshalIndent(job, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}
		cmd.Println(string(data))
	}

	answer, err := a.Jobs.Result(ctx, id)
	if err != nil {
		return err
	}
	if askJSON {
		return nil
	}

	cmd.Println(answer)
	if askSources {
		var in domain.GenerateInput
		if err := job.DecodeInput(&in); err != nil {
			return err
		}
		cmd.Println()
		cmd.Println("Sources:")
		for i, doc := range in.Documents {
			cmd.Printf("  [%d] %s\n", i+1, doc)
		}
	}
	return nil
}
