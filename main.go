package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"omx/internal/cmd"
	"omx/internal/errors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "omx: %v\n", err)
		if errors.IsExpected(err) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}
