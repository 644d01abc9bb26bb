package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/infigaming-com/substreams-sink-pubsub/config"
	"github.com/infigaming-com/substreams-sink-pubsub/domain"
	"github.com/infigaming-com/substreams-sink-pubsub/envelope"
	"github.com/infigaming-com/substreams-sink-pubsub/logging"
	"github.com/infigaming-com/substreams-sink-pubsub/pubsub"
	"github.com/infigaming-com/substreams-sink-pubsub/schema"
)

func newTailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail <subscription>",
		Short: "Log messages received on a subscription, decoding typed envelopes",
		Args:  cobra.ExactArgs(1),
		RunE:  tailE,
	}
	config.RegisterFlags(cmd.Flags())
	cmd.Flags().String("dead-letter", "", "Topic receiving messages whose envelope cannot be decoded")
	return cmd
}

func newRegistry() (*envelope.Registry, error) {
	reg := envelope.NewRegistry()
	if err := schema.Register(reg); err != nil {
		return nil, err
	}
	if err := domain.Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func tailHandler(lg *zap.Logger, reg *envelope.Registry) pubsub.Handler {
	return pubsub.HandlerFunc(func(ctx context.Context, msg *pubsub.Message) error {
		fields := []zap.Field{
			zap.String("id", msg.ID()),
			zap.String("ordering_key", msg.OrderingKey()),
			zap.Any("attributes", msg.Attributes()),
		}
		v, err := msg.DecodeEnvelope(reg)
		switch {
		case errors.Is(err, pubsub.ErrNoEnvelope):
			var doc map[string]any
			if msg.DecodeJSON(&doc) == nil {
				fields = append(fields, zap.Any("json", doc))
			} else {
				fields = append(fields, zap.ByteString("data", msg.Data()))
			}
		case err != nil:
			return pubsub.ErrPermanent(err)
		default:
			typeURL, _ := msg.TypeURL()
			fields = append(fields, zap.String("type", envelope.TypeName(typeURL)), zap.Any("value", v))
		}
		logging.FromContext(ctx, lg).Info("message", fields...)
		return nil
	})
}

func tailE(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	lg, undo := logging.NewLogger(logging.Config{Level: &cfg.LogLevel})
	defer undo()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg, err := newRegistry()
	if err != nil {
		return err
	}
	client, err := newClient(ctx, cfg, lg)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	deadLetter, err := cmd.Flags().GetString("dead-letter")
	if err != nil {
		return err
	}
	sub, err := client.Subscribe(args[0], tailHandler(lg, reg), pubsub.WithDeadLetter(deadLetter))
	if err != nil {
		return err
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := sub.Stop(shutdownCtx); err != nil {
		lg.Warn("stop subscription", zap.Error(err))
	}
	return client.Shutdown(shutdownCtx)
}
