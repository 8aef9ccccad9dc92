package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-s2s/internal/eventstore"
	"github.com/loqalabs/loqa-s2s/internal/language"
	"github.com/loqalabs/loqa-s2s/internal/router"
)

func (a *app) registry() (*language.Registry, error) {
	return language.FromConfig(a.cfg.Languages)
}

func (a *app) languagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List registered languages and direct translation models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CODE\tNAME\tDIRECT TARGETS")
			for _, l := range reg.Languages() {
				var targets []string
				for _, m := range reg.Models() {
					if m.Source == l.Code {
						targets = append(targets, string(m.Target))
					}
				}
				direct := "-"
				if len(targets) > 0 {
					direct = strings.Join(targets, ",")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", l.Code, l.Name, direct)
			}
			return tw.Flush()
		},
	}
}

func (a *app) routeCmd() *cobra.Command {
	var src, tgt string
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Show how a language pair would be translated",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry()
			if err != nil {
				return err
			}
			route, err := router.New(reg).Resolve(language.Code(src), language.Code(tgt))
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s -> %s: %s\n", route.Source, route.Target, route.Kind)
			for i, hop := range route.Hops {
				fmt.Fprintf(w, "  %d. %s (%s)\n", i+1, hop.ID, hop.Pair())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&src, "src", "", "Source language code")
	cmd.Flags().StringVar(&tgt, "tgt", "", "Target language code")
	_ = cmd.MarkFlagRequired("src")
	_ = cmd.MarkFlagRequired("tgt")
	return cmd
}

func (a *app) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [request-id]",
		Short: "List journaled runs, or the transitions of one run",
		Long: `List journaled runs, or the transitions of one run.

Runs are only journaled when event_store.retention_mode is session or
persistent.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := eventstore.Open(ctx, a.cfg.EventStore, a.logger)
			if err != nil {
				return fmt.Errorf("open event store: %w", err)
			}
			defer store.Close()
			if !store.Enabled() {
				return fmt.Errorf("event store is ephemeral; set event_store.retention_mode to keep history")
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			if len(args) == 1 {
				events, err := store.ListRunEvents(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if len(events) == 0 {
					return fmt.Errorf("no run %q", args[0])
				}
				fmt.Fprintln(tw, "AT\tFROM\tTO\tERROR")
				for _, e := range events {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.CreatedAt.Format(time.RFC3339Nano), e.From, e.To, e.Error)
				}
				return tw.Flush()
			}

			runs, err := store.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(tw, "REQUEST\tSTATE\tERROR KIND\tUPDATED")
			for _, r := range runs {
				kind := r.ErrorKind
				if kind == "" {
					kind = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.RequestID, r.State, kind, r.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum rows to print")
	return cmd
}
