package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fyrsmithlabs/ragd/internal/pipeline"
	"github.com/fyrsmithlabs/ragd/internal/tui"
)

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var forceRefresh bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch, chunk, embed and index the configured sources",
		Long: `Run the full build once and report the published index generation.

The corpus file is reused when it matches the configured sources and is
younger than corpus.max_age, unless --force-refresh is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if forceRefresh {
				a.cfg.Corpus.ForceRefresh = true
			}
			p, err := a.initialize(ctx)
			if err != nil {
				return err
			}

			part, _ := p.Generation()
			hs := p.Health(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d chunks for tenant %s (generation %s)\n",
				hs.IndexedChunks, part.Tenant, part.Generation)
			return nil
		},
	}
	cmd.Flags().BoolVar(&forceRefresh, "force-refresh", false, "re-download sources even if the corpus is fresh")
	return cmd
}

func newAskCmd(opts *rootOptions) *cobra.Command {
	var (
		contextHint string
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Build the index and answer one question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.initialize(ctx)
			if err != nil {
				return err
			}
			ans, err := p.Ask(ctx, strings.Join(args, " "), contextHint)
			if err != nil {
				return err
			}
			return printAnswer(cmd.OutOrStdout(), ans, asJSON)
		},
	}
	cmd.Flags().StringVar(&contextHint, "context", "", "free-form hint echoed back with the answer")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the answer as JSON")
	return cmd
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	var (
		contextHint string
		plain       bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Build the index once, then answer questions interactively",
		Long: `Build the index once and answer questions until you quit.

On a terminal this opens a full-screen chat. When stdin is not a terminal,
or with --plain, one question is read per input line.

Commands:
  :rebuild   build a new generation and swap it in
  :health    show dependency health
  exit, quit leave the session`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.initialize(ctx)
			if err != nil {
				return err
			}

			session := tui.NewSession(p, contextHint)
			in, out := cmd.InOrStdin(), cmd.OutOrStdout()
			if !plain && isTerminal(in) && isTerminal(out) {
				return tui.Run(ctx, session, in, out)
			}
			return tui.RunLines(ctx, in, out, session)
		},
	}
	cmd.Flags().StringVar(&contextHint, "context", "", "free-form hint echoed back with every answer")
	cmd.Flags().BoolVar(&plain, "plain", false, "read one question per line even on a terminal")
	return cmd
}

// isTerminal reports whether v is a file attached to a terminal.
func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the embedding provider and vector index",
		Long: `Ping the embedding provider and the vector index without building.

Exits with status 4 when either is unreachable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.openProviders(ctx); err != nil {
				return err
			}
			hs := pipeline.Probe(ctx, a.embedder, a.index, a.cfg.VectorStore.Timeout)
			hs.Version = version
			if err := printHealth(cmd.OutOrStdout(), hs, asJSON); err != nil {
				return err
			}
			if hs.Status != pipeline.StatusOnline {
				return errDegraded
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func printAnswer(w io.Writer, ans *pipeline.Answer, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(ans)
	}

	tui.WriteAnswer(w, ans)
	return nil
}

func printHealth(w io.Writer, hs pipeline.HealthStatus, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(hs)
	}

	tui.WriteHealth(w, hs)
	return nil
}
