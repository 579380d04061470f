package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/queryctl/queryctl/internal/cli"
	"github.com/queryctl/queryctl/internal/config"
	"github.com/queryctl/queryctl/internal/observability"
	"github.com/queryctl/queryctl/internal/validate"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	cfg, err := config.LoadFromEnv("queryctl")
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = observability.ContextWithInvocationID(ctx, uuid.NewString())

	app, err := cli.BuildApp(ctx, cfg, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		return 1
	}
	defer func() { _ = app.Close() }()

	root := cli.NewRootCmd(app)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		var verr *validate.Error
		if errors.As(err, &verr) {
			return 2
		}
		return 1
	}
	return 0
}
