// Command arovia runs the triage pipeline from a terminal.
//
// Usage:
//
//	arovia [flags] <command> [args]
//
// Commands:
//
//	triage      - Assess a free-text symptom description
//	voice       - Transcribe a WAV recording and assess it
//	facilities  - Search facilities near a location
//	languages   - List supported transcription languages
//	models      - Show configured backends
//	version     - Show version information
//
// Every setting can also come from an AROVIA_ environment variable or a
// .env file in the working directory.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error: load .env: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(buildApp).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
