// Command loqa-s2s translates a spoken audio file into speech in another
// language.
//
// Usage:
//
//	loqa-s2s [--config loqa-s2s.yaml] [--verbose] <command> [flags]
//
// Commands:
//
//	translate  - run one file through ASR, translation and TTS
//	languages  - list registered languages and direct models
//	route      - show how a language pair would be translated
//	history    - list journaled runs (persistent event store only)
//	version    - print the build version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/loqalabs/loqa-s2s/cmd/loqa-s2s/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := commands.NewRoot().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
