// Command crawld manages crawl sources and executes crawl runs against
// the shared datastore
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/codepr/crawld/config"
	"github.com/codepr/crawld/crawler"
	"github.com/codepr/crawld/fetcher"
	"github.com/codepr/crawld/store"
)

var (
	sourceType string

	delaySeconds float64
	batchSize    int

	staleAfterMinutes int
)

var rootCmd = &cobra.Command{
	Use:           "crawld",
	Short:         "A durable, politeness-aware domain crawler",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var createCmd = &cobra.Command{
	Use:   "create <url>",
	Short: "Create a new crawl source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if sourceType != string(store.SourceTypeSinglePage) &&
			sourceType != string(store.SourceTypeFullDomain) {
			return fmt.Errorf("invalid --type %q, want single_page or full_domain", sourceType)
		}
		ctx := cmd.Context()
		c, closer, err := buildCrawler(ctx)
		if err != nil {
			return err
		}
		defer closer()

		source, err := c.CreateSource(ctx, args[0], store.SourceType(sourceType))
		if err != nil {
			return err
		}
		fmt.Println(source.ID)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run <source_id>",
	Short: "Execute one crawl run for a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sourceID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid source ID %q: %w", args[0], err)
		}
		ctx := cmd.Context()
		c, closer, err := buildCrawler(ctx,
			crawler.WithDelay(time.Duration(delaySeconds*float64(time.Second))),
			crawler.WithBatchSize(batchSize),
		)
		if err != nil {
			return err
		}
		defer closer()

		result, err := c.StartRun(ctx, sourceID)
		if err != nil {
			return err
		}
		fmt.Printf("crawl finished: %d pages crawled, %d failed\n",
			result.PagesCrawled, result.PagesFailed)
		return nil
	},
}

var resetStaleCmd = &cobra.Command{
	Use:   "reset-stale",
	Short: "Revert queue items orphaned by dead workers back to pending",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		pg, st, err := store.Connect(ctx, cfg.DatastoreURL, cfg.ServiceKey)
		if err != nil {
			return err
		}
		defer pg.Close()

		reset, err := st.Queue.ResetStale(ctx, time.Duration(staleAfterMinutes)*time.Minute)
		if err != nil {
			return err
		}
		fmt.Printf("%d stale queue items reset\n", reset)
		return nil
	},
}

// buildCrawler wires the datastore, fetcher and logger into an
// orchestrator, returning a closer for the connection pool
func buildCrawler(ctx context.Context, opts ...crawler.Option) (*crawler.Crawler, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pg, st, err := store.Connect(ctx, cfg.DatastoreURL, cfg.ServiceKey)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger()
	if err != nil {
		pg.Close()
		return nil, nil, err
	}

	opts = append([]crawler.Option{
		crawler.WithConcurrency(config.GetEnvAsInt("CRAWL_CONCURRENCY", 5)),
		crawler.WithMaxDepth(config.GetEnvAsInt("CRAWL_MAX_DEPTH", 10)),
		crawler.WithMaxPages(config.GetEnvAsInt("CRAWL_MAX_PAGES", 1000)),
	}, opts...)

	c := crawler.New(st, fetcher.New(), logger, opts...)
	closer := func() {
		_ = logger.Sync()
		pg.Close()
	}
	return c, closer, nil
}

// newLogger builds the production zap logger, one structured record
// per fetched URL and lifecycle event
func newLogger() (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapConfig.Build()
}

func main() {
	createCmd.Flags().StringVar(&sourceType, "type", string(store.SourceTypeFullDomain),
		"crawl type, single_page or full_domain")
	runCmd.Flags().Float64Var(&delaySeconds, "delay", config.GetEnvAsFloat("CRAWL_DELAY", 0.5),
		"minimum delay in seconds between requests to the same domain")
	runCmd.Flags().IntVar(&batchSize, "batch-size", 10,
		"queue items claimed per iteration")
	resetStaleCmd.Flags().IntVar(&staleAfterMinutes, "after-minutes", 5,
		"age in minutes past which a processing item counts as stale")
	rootCmd.AddCommand(createCmd, runCmd, resetStaleCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "crawld:", err)
		os.Exit(1)
	}
}
