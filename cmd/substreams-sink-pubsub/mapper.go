package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/infigaming-com/substreams-sink-pubsub/domain"
	"github.com/infigaming-com/substreams-sink-pubsub/handler"
)

type mapFlags struct {
	topic       string
	orderingKey string
	block       bool
	fixedWidth  bool
	envelope    bool
	legacy      bool
	out         string
}

func (f *mapFlags) register(cmd *cobra.Command, withEnvelope bool) {
	flags := cmd.Flags()
	flags.StringVar(&f.topic, "topic", "", "Topic override")
	flags.StringVar(&f.orderingKey, "ordering-key", "", "One ordering key for every operation")
	flags.BoolVar(&f.block, "block-ordering", false, "Key operations by decimal block number")
	flags.BoolVar(&f.fixedWidth, "fixed-width", false, "Key operations by 16 hex digit block number")
	flags.BoolVar(&f.legacy, "legacy", false, "Emit the legacy Publish message instead of PublishOperations")
	flags.StringVarP(&f.out, "out", "o", "-", "Output file, - for stdout")
	if withEnvelope {
		flags.BoolVar(&f.envelope, "envelope", false, "Attach the typed envelope of each record")
	}
}

func (f *mapFlags) options() []handler.Option {
	var opts []handler.Option
	if f.topic != "" {
		opts = append(opts, handler.WithTopic(f.topic))
	}
	switch {
	case f.orderingKey != "":
		opts = append(opts, handler.WithOrderingKey(f.orderingKey))
	case f.fixedWidth:
		opts = append(opts, handler.WithFixedWidthBlockOrdering())
	case f.block:
		opts = append(opts, handler.WithBlockOrdering())
	}
	if f.envelope {
		opts = append(opts, handler.WithEnvelope())
	}
	return opts
}

func newMapClockCmd() *cobra.Command {
	f := &mapFlags{}
	cmd := &cobra.Command{
		Use:   "map-clock [input-file]",
		Short: "Map an encoded Clock to publish operations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h := handler.NewClockHandler(f.options()...)
			fn := handler.Map[domain.Clock, *domain.Clock](h)
			if f.legacy {
				fn = handler.MapLegacy[domain.Clock, *domain.Clock](h)
			}
			return runMapper(cmd, args, f.out, fn)
		},
	}
	f.register(cmd, false)
	return cmd
}

func newMapTransfersCmd() *cobra.Command {
	f := &mapFlags{}
	cmd := &cobra.Command{
		Use:   "map-transfers [input-file]",
		Short: "Map encoded Transfers to publish operations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h := handler.NewTransfersHandler(f.options()...)
			fn := handler.Map[domain.Transfers, *domain.Transfers](h)
			if f.legacy {
				fn = handler.MapLegacy[domain.Transfers, *domain.Transfers](h)
			}
			return runMapper(cmd, args, f.out, fn)
		},
	}
	f.register(cmd, true)
	return cmd
}

// runMapper reads one encoded record from the file argument or stdin and
// writes the encoded output.
func runMapper(cmd *cobra.Command, args []string, out string, fn func([]byte) ([]byte, error)) error {
	var (
		input []byte
		err   error
	)
	if len(args) == 1 && args[0] != "-" {
		input, err = os.ReadFile(args[0])
	} else {
		input, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	output, err := fn(input)
	if err != nil {
		return err
	}
	if out == "-" || out == "" {
		_, err = cmd.OutOrStdout().Write(output)
		return err
	}
	return os.WriteFile(out, output, 0o644)
}
