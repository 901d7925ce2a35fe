package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-chat/internal/app"
)

// writeConfig writes a config file rooted in a temp dir and returns its path.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`data_dir: %[1]s/data
index_dir: %[1]s/index
upload_dir: %[1]s/uploads
worker:
  id: cli-test
  dequeue_timeout: 20ms
  initial_backoff: 1ms
  max_backoff: 1ms
logging:
  level: error
embedding:
  provider: local
  dimensions: 32
`, filepath.ToSlash(dir))
	path := filepath.Join(dir, "sercha.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// run executes the root command with args and returns its combined output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return buf.String(), err
}

// withAppOptions applies opts to every app the commands build during the test.
func withAppOptions(t *testing.T, opts ...app.Option) {
	t.Helper()
	original := appOptions
	appOptions = opts
	t.Cleanup(func() { appOptions = original })
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
