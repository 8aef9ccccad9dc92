// Package commands holds the loqa-s2s cobra command tree.
package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-s2s/internal/config"
	"github.com/loqalabs/loqa-s2s/internal/runtime"
)

var version = "0.1.0-dev"

// app carries the state shared by every subcommand of one invocation.
type app struct {
	configPath string
	verbose    bool

	cfg    config.Config
	logger *slog.Logger
}

// NewRoot builds a fresh command tree.
func NewRoot() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "loqa-s2s",
		Short:         "Offline speech-to-speech translation",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `Translate spoken audio between Indic languages and English.

Audio is transcribed, translated directly when a model exists for the pair
or through English otherwise, and synthesized in the target language.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML config file (built-in defaults when empty)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log debug output to stderr")

	root.AddCommand(
		a.translateCmd(),
		a.languagesCmd(),
		a.routeCmd(),
		a.historyCmd(),
		versionCmd(),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := runtime.ParseLevel(cfg.Telemetry.LogLevel)
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
