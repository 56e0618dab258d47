// Ragd answers questions from a document corpus with retrieval-augmented
// generation.
//
// Usage:
//
//	# Fetch, chunk, embed and index the configured sources
//	ragd ingest --force-refresh
//
//	# Ask one question
//	ragd ask "Who was the first President?" --context "history quiz"
//
//	# Build once, then answer questions from stdin
//	ragd chat
//
//	# Probe the embedding provider and vector index
//	ragd health
//
// Configuration is read from ./ragd.yaml, ~/.config/ragd/config.yaml or
// --config, with RAGD_* environment overrides. See internal/config.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ragd/internal/pipeline"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Exit codes.
const (
	exitOK       = 0
	exitError    = 1
	exitConfig   = 2
	exitInit     = 3
	exitDegraded = 4
)

// rootOptions are the persistent flags.
type rootOptions struct {
	configPath  string
	metricsAddr string
	logLevel    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "ragd",
		Short: "Retrieval-augmented question answering over a document corpus",
		Long: `ragd fetches source documents, indexes them for semantic search and
answers questions by retrieving relevant passages and passing them to a
language model.

Exit codes: 1 general error, 2 configuration error, 3 startup build
failed, 4 health check degraded.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default ./ragd.yaml or ~/.config/ragd/config.yaml)")
	root.PersistentFlags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level (trace, debug, info, warn, error)")

	root.AddCommand(
		newIngestCmd(opts),
		newAskCmd(opts),
		newChatCmd(opts),
		newHealthCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ragd by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}

// errDegraded is returned by health when a dependency is down.
var errDegraded = errors.New("health check degraded")

func exitCode(err error) int {
	var ie *pipeline.InitError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errConfig):
		return exitConfig
	case errors.As(err, &ie):
		return exitInit
	case errors.Is(err, errDegraded):
		return exitDegraded
	default:
		return exitError
	}
}
