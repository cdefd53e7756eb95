package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/sha1n/pagesearch/internal/app"
	"github.com/sha1n/pagesearch/internal/config"
	"github.com/sha1n/pagesearch/internal/domain"
	"github.com/sha1n/pagesearch/internal/index"
	"github.com/sha1n/pagesearch/internal/pagexml"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	// Version is injected at build time
	Version = "dev"
	// Build is injected at build time
	Build = "unknown"
	// ProgramName is injected at build time
	ProgramName = "pagesearch"
)

func main() {
	runMain(os.Args, os.Exit)
}

func runMain(args []string, exit func(int)) {
	if err := Execute(Version, Build, ProgramName, args[1:]); err != nil {
		exit(1)
	}
}

// Execute is the entry point for the CLI, extracted for testing
func Execute(version, build, programName string, args []string) error {
	rootCmd := &cobra.Command{
		Use:     programName,
		Short:   "Full-text search over transcribed page lines",
		Long:    "pagesearch indexes PageXML transcriptions of scanned pages and answers full-text queries over the corpus",
		Version: version,
	}

	rootCmd.SetVersionTemplate(`{{.Version}}
`)

	app.RegisterCommonFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(newIndexCmd())
	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newOptimizeCmd())
	rootCmd.AddCommand(newServeCmd(version))

	rootCmd.SetArgs(args)

	return rootCmd.Execute()
}

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build or update the search index from a PageXML corpus",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(context.Background(), cmd.Flags())
		},
	}
	app.RegisterIndexFlags(cmd.Flags())
	return cmd
}

func newSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search QUERY",
		Short: "Search the indexed corpus",
		Long:  "Search the indexed corpus with full-text query syntax: bare terms, \"quoted phrases\", boolean operators and fuzzy terms like 'term~1'",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(context.Background(), cmd.Flags(), strings.Join(args, " "), cmd.OutOrStdout())
		},
	}
}

func newOptimizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Compact the index into a single segment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOptimize(context.Background(), cmd.Flags())
		},
	}
	app.RegisterOptimizeFlags(cmd.Flags())
	return cmd
}

func newServeCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the index to MCP clients over stdio or SSE",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunWithDeps(context.Background(), app.DefaultRunParams(), cmd.Flags(), version)
		},
	}
	app.RegisterServeFlags(cmd.Flags())
	return cmd
}

// loadValidSettings resolves settings for a one-shot command and installs
// the logging handler before any work starts.
func loadValidSettings(flags *pflag.FlagSet) (*config.Settings, error) {
	settings, err := config.LoadSettingsWithFlags(flags)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if err := config.ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	app.ConfigureLogging(settings.Verbose)
	return settings, nil
}

func runIndex(ctx context.Context, flags *pflag.FlagSet) error {
	settings, err := loadValidSettings(flags)
	if err != nil {
		return err
	}

	builder := index.NewBuilder(&settings.Index, pagexml.NewParser())
	builder.SetProgress(newProgressBar())

	_, err = builder.Build(ctx)
	return err
}

func runSearch(ctx context.Context, flags *pflag.FlagSet, query string, out io.Writer) error {
	settings, err := loadValidSettings(flags)
	if err != nil {
		return err
	}

	engine := index.NewEngine(index.NewStore(settings.Index.Dir))
	hits, err := engine.Search(ctx, query)
	if err != nil {
		if errors.Is(err, index.ErrIndexNotFound) {
			return fmt.Errorf("no index found at %s, run '%s index' first", settings.Index.Dir, ProgramName)
		}
		return err
	}

	renderResults(out, hits)
	return nil
}

func runOptimize(ctx context.Context, flags *pflag.FlagSet) error {
	settings, err := loadValidSettings(flags)
	if err != nil {
		return err
	}

	store := index.NewStore(settings.Index.Dir)
	if err := store.Optimize(ctx, settings.Index.OptimizeTimeout); err != nil {
		if errors.Is(err, index.ErrIndexNotFound) {
			slog.Warn("No index to optimize", "dir", settings.Index.Dir)
			return nil
		}
		return err
	}

	store.LogStats()
	return nil
}

// newProgressBar returns a progress callback that renders a terminal bar on
// stderr, keeping stdout free for command output. The bar is created on the
// first call, once the document total is known.
func newProgressBar() index.ProgressFunc {
	var bar *progressbar.ProgressBar
	return func(done, total int, path string) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("Indexing"),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(os.Stderr)
				}),
			)
		}
		_ = bar.Set(done)
	}
}

func renderResults(out io.Writer, hits []domain.QueryHit) {
	if len(hits) == 0 {
		fmt.Fprintln(out, "No results found.")
		return
	}

	groups := index.GroupByDocument(hits)
	index.SortGroups(groups)

	fmt.Fprintf(out, "Found %d lines matching the query in %d documents.\n", len(hits), len(groups))
	for _, group := range groups {
		fmt.Fprintf(out, "\n%s (%d matching lines)\n", group.DocumentPath, group.NumLines())
		for _, hit := range group.Lines {
			fmt.Fprintf(out, "  - %s\n", index.Highlight(hit.Line.Content, hit.MatchedTerms))
		}
	}
}
