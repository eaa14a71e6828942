package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Relay-Chess/internal/codec"
	"github.com/park285/Cheese-Relay-Chess/internal/config"
	"github.com/park285/Cheese-Relay-Chess/internal/msgcat"
	"github.com/park285/Cheese-Relay-Chess/internal/obslog"
	"github.com/park285/Cheese-Relay-Chess/internal/relay"
)

type probe struct {
	Endpoint string
	State    relay.ConnState
	Info     *relay.Info
	Err      error
}

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	defer obslog.Sync()

	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:          "relaycheck [relay]...",
		Short:        "Check relay reachability and NIP-11 information",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cfg.OverrideRelays(args)
			msgs, err := msgcat.New(cfg.MessagesDir)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			results := check(ctx, cfg.Relays, timeout)

			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
					fmt.Fprintln(cmd.OutOrStdout(), msgs.Text("relaycheck.failed", map[string]any{
						"Endpoint": r.Endpoint, "State": r.State, "Error": r.Err,
					}))
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), msgs.Text("relaycheck.ok", map[string]any{
					"Endpoint": r.Endpoint, "State": r.State,
					"Name": r.Info.Name, "Software": r.Info.Software, "Version": r.Info.Version,
				}))
			}
			if failed == len(results) {
				return fmt.Errorf("no relay reachable")
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "overall probe timeout")
	return cmd
}

// check fetches each relay's information document and runs a one-event query
// over its websocket.
func check(ctx context.Context, endpoints []string, timeout time.Duration) []probe {
	endpoints = relay.Endpoints(endpoints)
	info := relay.NewInfoClient(relay.WithInfoTimeout(timeout / 2))
	pool := relay.NewPool(relay.PoolConfig{QueryTimeout: timeout / 2})
	defer func() { _ = pool.Close(context.Background()) }()

	results := make([]probe, len(endpoints))
	var wg sync.WaitGroup
	for i, ep := range endpoints {
		wg.Add(1)
		go func(i int, ep string) {
			defer wg.Done()
			r := probe{Endpoint: ep}
			r.Info, r.Err = info.Fetch(ctx, ep)
			if _, qerr := pool.Query(ctx, []string{ep}, codec.LobbyFilter(1)); qerr != nil && r.Err == nil {
				r.Err = qerr
			}
			results[i] = r
		}(i, ep)
	}
	wg.Wait()

	states := pool.States()
	for i := range results {
		results[i].State = states[results[i].Endpoint]
		obslog.L().Info("relay_probe",
			zap.String("endpoint", results[i].Endpoint),
			zap.String("state", string(results[i].State)),
			zap.Error(results[i].Err),
		)
	}
	return results
}
