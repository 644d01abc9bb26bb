package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/infigaming-com/substreams-sink-pubsub/config"
	"github.com/infigaming-com/substreams-sink-pubsub/lock"
	"github.com/infigaming-com/substreams-sink-pubsub/logging"
	"github.com/infigaming-com/substreams-sink-pubsub/observability/metrics"
	"github.com/infigaming-com/substreams-sink-pubsub/sink"
	"github.com/infigaming-com/substreams-sink-pubsub/web"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <replay-file>",
		Short: "Publish the operations of every block in a replay file",
		Args:  cobra.ExactArgs(1),
		RunE:  runE,
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func runE(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	lg, undo := logging.NewLogger(logging.Config{Level: &cfg.LogLevel})
	defer undo()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := newClient(ctx, cfg, lg)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := client.Shutdown(shutdownCtx); err != nil {
			lg.Warn("transport shutdown", zap.Error(err))
		}
	}()

	rc := &redisClient{ctx: ctx, lg: lg, cfg: cfg.Redis}
	defer rc.Close()

	store, err := newCursorStore(ctx, cfg, rc)
	if err != nil {
		return fmt.Errorf("cursor store: %w", err)
	}

	opts := []sink.Option{
		sink.WithLogger(lg),
		sink.WithTopics(cfg.Topics...),
		sink.WithLegacyTopic(cfg.LegacyTopic),
		sink.WithStartBlock(uint64(cfg.StartBlock)),
	}
	if cfg.Lease.Enabled {
		redisClient, err := rc.get()
		if err != nil {
			return fmt.Errorf("lease: %w", err)
		}
		opts = append(opts, sink.WithLease(lock.NewRedisLock(redisClient), cfg.Lease.Key, cfg.Lease.TTL))
	}
	if cfg.Metrics.Enabled() {
		exporter, err := metrics.NewExporter(ctx,
			metrics.WithServiceVersion(version),
			metrics.WithOTLPEndpoint(cfg.Metrics.OTLPEndpoint),
			metrics.WithOTLPGRPCEndpoint(cfg.Metrics.OTLPGRPCEndpoint),
			metrics.WithEnvironment(cfg.Metrics.Environment),
		)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		defer func() { _ = exporter.Close(context.WithoutCancel(ctx)) }()
		inst, err := metrics.NewSinkInstruments(exporter.Meter())
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		opts = append(opts, sink.WithInstruments(inst))
	}

	s, err := sink.New(client, store, opts...)
	if err != nil {
		return err
	}

	server := web.New(lg, s, web.WithPort(cfg.HTTP.Port))
	if _, err := server.Start(); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Warn("ops server shutdown", zap.Error(err))
		}
	}()

	lg.Info("starting sink",
		zap.String("transport", cfg.Transport),
		zap.String("input_module", cfg.InputModule),
		zap.Strings("topics", cfg.Topics),
		zap.String("replay", args[0]))
	return s.Run(ctx, sink.NewReplayFile(args[0]))
}
