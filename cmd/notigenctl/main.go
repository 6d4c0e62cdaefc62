// Command notigenctl manages the template corpus and runs generations from
// the terminal.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aiox-platform/notigen/internal/app"
	"github.com/aiox-platform/notigen/internal/config"
	"github.com/aiox-platform/notigen/internal/database"
	"github.com/aiox-platform/notigen/internal/ingest"
	inats "github.com/aiox-platform/notigen/internal/nats"
	"github.com/aiox-platform/notigen/internal/orchestrator"
	"github.com/aiox-platform/notigen/internal/vectorindex"
)

// env builds what a command needs from configuration. Tests swap it out.
type env struct {
	loadConfig func() (*config.Config, error)
	openApp    func(ctx context.Context, cfg *config.Config) (*app.App, error)
}

func defaultEnv() env {
	return env{loadConfig: config.Load, openApp: app.New}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(defaultEnv()).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(e env) *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:           "notigenctl",
		Short:         "notigenctl - notification generation operator tool",
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddCommand(
		newIngestCmd(e),
		newWatchCmd(e),
		newPublishCmd(e),
		newGenerateCmd(e),
		newMigrateCmd(e),
	)
	return root
}

// withApp loads configuration, opens the pipeline and runs fn.
func withApp(cmd *cobra.Command, e env, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := e.loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a, err := e.openApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

func newIngestCmd(e env) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file.yaml>...",
		Short: "Embed and index the templates in one or more YAML files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, e, func(ctx context.Context, a *app.App) error {
				total := 0
				for _, path := range args {
					n, err := a.Indexer.IngestFile(ctx, path)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d templates\n", path, n)
					total += n
				}
				fmt.Fprintf(cmd.OutOrStdout(), "indexed %d templates\n", total)
				return nil
			})
		},
	}
}

func newWatchCmd(e env) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <dir>",
		Short: "Index a template directory and re-index files as they change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, e, func(ctx context.Context, a *app.App) error {
				w := ingest.NewWatcher(a.Indexer, args[0])
				n, err := w.IngestAll(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "indexed %d templates, watching %s\n", n, args[0])
				return w.Run(ctx)
			})
		},
	}
}

func newPublishCmd(e env) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <file.yaml>",
		Short: "Send the templates in a YAML file to the ingest queue over NATS",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			templates, err := ingest.LoadFile(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, e, func(ctx context.Context, a *app.App) error {
				if a.Publisher == nil {
					return errors.New("NATS_URL is not configured")
				}
				if err := a.Publisher.PublishTemplateUpsert(ctx, upsertMessage(templates)); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "published %d templates\n", len(templates))
				return nil
			})
		},
	}
}

func upsertMessage(templates []ingest.Template) inats.TemplateUpsert {
	msg := inats.TemplateUpsert{Templates: make([]inats.TemplateRecord, len(templates))}
	for i, t := range templates {
		msg.Templates[i] = inats.TemplateRecord{ID: t.ID, Payload: t.Payload}
	}
	return msg
}

type generateFlags struct {
	topK     int
	channel  string
	category string
	tone     string
	language string
	stream   bool
	asJSON   bool
	noCache  bool
}

func (f generateFlags) options() orchestrator.Options {
	opts := orchestrator.Options{
		TopK: f.topK,
		Filter: vectorindex.Filter{
			Channel:  f.channel,
			Category: f.category,
			Tone:     f.tone,
			Language: f.language,
		},
	}
	if f.noCache {
		useCache := false
		opts.UseCache = &useCache
	}
	return opts
}

func newGenerateCmd(e env) *cobra.Command {
	var f generateFlags
	cmd := &cobra.Command{
		Use:   "generate <query>",
		Short: "Generate one notification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, e, func(ctx context.Context, a *app.App) error {
				if f.stream {
					return streamGeneration(ctx, cmd.OutOrStdout(), a.Orchestrator, args[0], f.options())
				}
				res, err := a.Orchestrator.Generate(ctx, args[0], f.options())
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), res, f.asJSON)
			})
		},
	}
	cmd.Flags().IntVarP(&f.topK, "top-k", "k", 0, "templates to retrieve")
	cmd.Flags().StringVar(&f.channel, "channel", "", "only use templates for this channel")
	cmd.Flags().StringVar(&f.category, "category", "", "only use templates in this category")
	cmd.Flags().StringVar(&f.tone, "tone", "", "only use templates with this tone")
	cmd.Flags().StringVar(&f.language, "language", "", "only use templates in this language")
	cmd.Flags().BoolVarP(&f.stream, "stream", "s", false, "print content as it is generated")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print the full result as JSON")
	cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "bypass the response cache")
	return cmd
}

func printResult(w io.Writer, res *orchestrator.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Fprintln(w, res.Content)
	fmt.Fprintln(w)
	for _, s := range res.Sources {
		fmt.Fprintf(w, "  [%d] %s (score %.2f)\n", s.Rank, s.ID, s.Score)
	}
	m := res.Metadata
	fmt.Fprintf(w, "model=%s tokens=%d cost=%.6f cache_hit=%t retries=%d latency=%dms\n",
		m.Model, m.Tokens.TotalTokens, m.Cost, m.CacheHit, m.RetryCount, m.Timings.TotalMs)
	return nil
}

type streamer interface {
	GenerateStream(ctx context.Context, query string, opts orchestrator.Options) (*orchestrator.Stream, error)
}

func streamGeneration(ctx context.Context, w io.Writer, s streamer, query string, opts orchestrator.Options) error {
	stream, err := s.GenerateStream(ctx, query, opts)
	if err != nil {
		return err
	}
	defer stream.Close()

	for ev := range stream.Events() {
		switch data := ev.Data.(type) {
		case orchestrator.ContentEvent:
			fmt.Fprint(w, data.Chunk)
		case orchestrator.CompleteEvent:
			fmt.Fprintln(w)
		}
	}
	return stream.Err()
}

func newMigrateCmd(e env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pgvector index migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := e.loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := database.RunMigrations(cfg.DB.DSN(), cfg.Index.Migrations); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
