package main

// @title           Sercha Chat API
// @version         1.0
// @description     Retrieval-augmented chat over your own documents. Questions and document uploads run as jobs that callers poll by id.

// @contact.name   Sercha OSS
// @contact.url    https://github.com/custodia-labs/sercha-chat/issues

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:8080
// @BasePath  /api/v1
// @schemes   http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT Bearer token. Format: "Bearer {token}"

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/custodia-labs/sercha-chat/internal/adapters/driving/cli"
)

var version = "dev"

func main() {
	// Handle shutdown signals
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cli.Execute(ctx, version); err != nil {
		cancel()
		os.Exit(1)
	}
}
