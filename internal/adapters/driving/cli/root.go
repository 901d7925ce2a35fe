// Package cli is the sercha-chat command line. Every command builds its own
// application from the loaded configuration and tears it down on exit.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-chat/internal/app"
	"github.com/custodia-labs/sercha-chat/internal/config"
)

var version = "dev"

var (
	configPath string
	logLevel   string

	// appOptions are passed to every app.New the commands make.
	appOptions []app.Option
)

var rootCmd = &cobra.Command{
	Use:   "sercha-chat",
	Short: "Chat with your documents",
	Long: `sercha-chat answers questions from your own documents.

Documents are split into sentence chunks, embedded and stored in a named
vector index. Questions retrieve the nearest chunks and are answered by a
text generator. Ingestion and generation run as jobs on a worker pool.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default "+config.DefaultPath+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
}

// Execute runs the command line. Cancelling ctx stops long-running commands.
func Execute(ctx context.Context, v string) error {
	version = v
	return rootCmd.ExecuteContext(ctx)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, appOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to start: %w", err)
	}
	return a, nil
}

// stageFile copies path into dir so the job that consumes it never removes
// the caller's original.
func stageFile(path, dir string) (string, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	f, err := os.CreateTemp(dir, "ingest-*"+strings.ToLower(filepath.Ext(path)))
	if err != nil {
		return "", fmt.Errorf("stage %s: %w", path, err)
	}
	if _, err := f.Write(src); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("stage %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
