// Command pixvault generates images and keeps them in an encrypted local vault.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/and161185/pixvault/internal/errs"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(&rootOptions{})
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", describe(err))
		stop()
		os.Exit(exitCode(err))
	}
}

// exitCode maps failures to stable process exit codes for scripting.
func exitCode(err error) int {
	switch {
	case errors.Is(err, errs.ErrNoSession), errors.Is(err, errs.ErrSessionExpired):
		return 3
	case errors.Is(err, errs.ErrUnauthorized), errors.Is(err, errs.ErrRateLimited):
		return 4
	case errors.Is(err, errs.ErrNotFound):
		return 5
	case errors.Is(err, errs.ErrValidation):
		return 2
	default:
		return 1
	}
}

// describe adds a hint for errors a user can act on.
func describe(err error) string {
	switch {
	case errors.Is(err, errs.ErrNoSession):
		return "not logged in (run: pixvault user login)"
	case errors.Is(err, errs.ErrSessionExpired):
		return "session expired (run: pixvault user login)"
	case errors.Is(err, errs.ErrRateLimited):
		return "too many failed attempts, try again later"
	default:
		return err.Error()
	}
}
