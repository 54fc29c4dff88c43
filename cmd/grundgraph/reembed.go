package main

import (
	"fmt"
	"os"
	"time"

	"github.com/poiesic/grundgraph/reembed"
	"github.com/urfave/cli/v2"
)

func reembedCommand() *cli.Command {
	return &cli.Command{
		Name:   "reembed",
		Usage:  "Reembed every stored chunk with the configured embedding model",
		Action: reembedAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "embedding-host",
				Usage: "Embedding service host URL (overrides embedding.host)",
			},
			&cli.StringFlag{
				Name:  "embedding-model",
				Usage: "Embedding model name (overrides embedding.model)",
			},
			&cli.StringFlag{
				Name:  "collection",
				Usage: "Collection to read chunks from (defaults to the configured collection)",
			},
			&cli.StringFlag{
				Name:  "target-collection",
				Usage: "Collection to write new vectors to; required when the dimension changes",
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Number of chunks to process in each batch",
				Value: 100,
			},
			&cli.IntFlag{
				Name:  "report-interval",
				Usage: "Report progress every N chunks",
				Value: 100,
			},
			&cli.IntFlag{
				Name:  "max-retries",
				Usage: "Maximum retry attempts for failed operations",
				Value: 3,
			},
			&cli.DurationFlag{
				Name:  "retry-delay",
				Usage: "Base delay for exponential backoff",
				Value: 1 * time.Second,
			},
		},
	}
}

func reembedAction(c *cli.Context) error {
	for _, name := range []string{"batch-size", "report-interval", "max-retries"} {
		if c.Int(name) <= 0 {
			return fmt.Errorf("%s must be greater than 0", name)
		}
	}
	reembedConfig := &reembed.Config{
		Collection:       c.String("collection"),
		TargetCollection: c.String("target-collection"),
		BatchSize:        c.Int("batch-size"),
		ReportInterval:   c.Int("report-interval"),
		MaxRetries:       c.Int("max-retries"),
		RetryDelay:       c.Duration("retry-delay"),
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("embedding-host") {
		cfg.Embedding.Host = c.String("embedding-host")
	}
	if c.IsSet("embedding-model") {
		cfg.Embedding.Model = c.String("embedding-model")
	}
	if reembedConfig.Collection == "" {
		reembedConfig.Collection = cfg.Processing.WithDefaults().CollectionName
	}

	svc, err := openService(c, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	reembedder, err := reembed.NewReembedder(svc.Vectors(), svc.Embedder(), reembedConfig, os.Stderr)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Reembedding with %s at %s (data in %s)\n\n",
		cfg.Embedding.Model, cfg.Embedding.Host, cfg.DataDir)

	if _, err := reembedder.Run(c.Context); err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	return nil
}
