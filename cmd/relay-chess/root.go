package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/park285/Cheese-Relay-Chess/internal/chessbuilder"
	"github.com/park285/Cheese-Relay-Chess/internal/config"
)

var validFormats = []string{"text", "json"}

// DepsFactory builds the component graph for one invocation.
type DepsFactory func(ctx context.Context, cfg *config.AppConfig) (*chessbuilder.Deps, error)

type RootOptions struct {
	Relays  []string
	Format  string
	Timeout time.Duration

	newDeps DepsFactory
}

// NewRootCommand builds the CLI. A nil factory wires the websocket pool.
func NewRootCommand(factory DepsFactory) *cobra.Command {
	if factory == nil {
		factory = func(ctx context.Context, cfg *config.AppConfig) (*chessbuilder.Deps, error) {
			return chessbuilder.New(ctx, cfg)
		}
	}
	opts := &RootOptions{newDeps: factory}

	cmd := &cobra.Command{
		Use:   "relay-chess",
		Short: "Play correspondence chess over relays",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range validFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringSliceVar(&opts.Relays, "relay", nil, "relay URL (repeatable, overrides CHESS_RELAYS)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "timeout for one-shot commands")

	cmd.AddCommand(
		newCreateCommand(opts),
		newJoinCommand(opts),
		newMoveCommand(opts),
		newResignCommand(opts),
		newWatchCommand(opts),
		newPracticeCommand(opts),
		newGamesCommand(opts),
		newRatingCommand(opts),
		newHistoryCommand(opts),
	)
	return cmd
}

// deps loads config, applies flag overrides and builds the components.
func (o *RootOptions) deps(ctx context.Context) (*chessbuilder.Deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.OverrideRelays(o.Relays)
	return o.newDeps(ctx, cfg)
}

// withDeps runs fn with a bounded context and closes the components after.
func (o *RootOptions) withDeps(cmd *cobra.Command, bounded bool, fn func(ctx context.Context, d *chessbuilder.Deps) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if bounded && o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}
	d, err := o.deps(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = d.Close(closeCtx)
	}()
	return newPrinter(cmd, o.Format, d.Messages).fail(fn(ctx, d))
}
