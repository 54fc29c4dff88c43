package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/poiesic/grundgraph"
	"github.com/poiesic/grundgraph/server"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API with periodic job cleanup",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (overrides server.addr)",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("addr") {
		cfg.Server.Addr = c.String("addr")
	}
	if c.String("log-level") != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	svc, err := openService(c, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	srv := server.NewServer(svc)
	g, ctx := errgroup.WithContext(c.Context)
	g.Go(func() error {
		return srv.Run(ctx, cfg.Server.Addr)
	})
	g.Go(func() error {
		cleanupLoop(ctx, svc, cfg.Jobs.CleanupInterval)
		return nil
	})
	return g.Wait()
}

// cleanupLoop applies the retention policy every interval until ctx is done.
func cleanupLoop(ctx context.Context, svc *grundgraph.Service, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.CleanupOldJobs(ctx); err != nil {
				slog.Error("job cleanup failed", "err", err)
			}
		}
	}
}
