package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-chat/internal/config"
)

// Run modes
const (
	modeAll    = "all"
	modeAPI    = "api"
	modeWorker = "worker"
)

var serveMode string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and job workers",
	Long: `Runs the HTTP API, the job workers, or both.

Modes:
  all     - API and workers in one process (default)
  api     - API only; jobs are run by separate worker processes
  worker  - workers only

Split modes need a shared job backend (redis, postgres or sqlite).`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	mode := os.Getenv("RUN_MODE")
	if mode == "" {
		mode = modeAll
	}
	serveCmd.Flags().StringVarP(&serveMode, "mode", "m", mode, "run mode: all, api or worker")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	switch serveMode {
	case modeAll, modeAPI, modeWorker:
	default:
		return fmt.Errorf("unknown mode: %s (use: all, api, or worker)", serveMode)
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if serveMode != modeAll && a.Config.Jobs.Backend == config.BackendMemory {
		a.Logger.Warn("memory job backend is not shared between processes", "mode", serveMode)
	}

	if serveMode == modeAPI {
		a.StartAPI(ctx)
	} else if err := a.Start(ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	if serveMode == modeWorker {
		a.Logger.Info("worker started, processing jobs", "worker_id", a.Worker.ID())
		<-ctx.Done()
		a.Stop()
		return nil
	}

	return a.NewServer(version).Start(ctx)
}
