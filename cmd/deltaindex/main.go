package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dshills/deltaindex/internal/state"
	"github.com/dshills/deltaindex/pkg/types"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// Exit codes
const (
	exitFailure = 1
	exitConfig  = 2 // Bad configuration or rejected credentials
	exitLocked  = 3 // Another run holds the index
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		printError("%v", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, types.ErrAuthOrConfig):
		return exitConfig
	case errors.Is(err, state.ErrIndexLocked):
		return exitLocked
	}
	return exitFailure
}

func versionString() string {
	return fmt.Sprintf("deltaindex %s (built %s)", version, buildTime)
}
