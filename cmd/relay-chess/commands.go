package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/park285/Cheese-Relay-Chess/internal/chessbuilder"
	"github.com/park285/Cheese-Relay-Chess/internal/gamesync"
	"github.com/park285/Cheese-Relay-Chess/internal/lobby"
	"github.com/park285/Cheese-Relay-Chess/internal/reconcile"
	"github.com/park285/Cheese-Relay-Chess/pkg/chessdto"
)

// openReady opens gameID and waits for its initial load.
func openReady(ctx context.Context, d *chessbuilder.Deps, gameID string) (*gamesync.Session, error) {
	s, err := d.Controller.Open(gameID, "")
	if err != nil {
		return nil, err
	}
	if err := s.WaitReady(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func newCreateCommand(opts *RootOptions) *cobra.Command {
	var endpoint string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a game and wait for an opponent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDeps(cmd, true, func(ctx context.Context, d *chessbuilder.Deps) error {
				if err := d.RequireKey(); err != nil {
					return err
				}
				rec, err := d.Controller.CreateGame(ctx, endpoint)
				if err != nil {
					return err
				}
				p := newPrinter(cmd, opts.Format, d.Messages)
				if !p.json() {
					p.line("game.created", map[string]any{"GameID": rec.GameID, "Endpoint": rec.PreferredEndpoint})
				}
				return p.game(reconcile.View{Record: rec, Sync: reconcile.Confirmed})
			})
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "preferred relay for the game (default: first relay)")
	return cmd
}

func newJoinCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "join <game-id>",
		Short: "Take the black seat of an open game",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDeps(cmd, true, func(ctx context.Context, d *chessbuilder.Deps) error {
				if err := d.RequireKey(); err != nil {
					return err
				}
				s, err := openReady(ctx, d, args[0])
				if err != nil {
					return err
				}
				defer s.Close()
				if _, err := s.Join(ctx); err != nil {
					return err
				}
				p := newPrinter(cmd, opts.Format, d.Messages)
				if !p.json() {
					p.line("game.joined", map[string]any{"GameID": s.GameID()})
				}
				return printCurrent(p, s)
			})
		},
	}
}

func newMoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "move <game-id> <move>",
		Short: "Play a move in SAN (e4, Nf3, O-O) or UCI (e2e4, e7e8q)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDeps(cmd, true, func(ctx context.Context, d *chessbuilder.Deps) error {
				if err := d.RequireKey(); err != nil {
					return err
				}
				s, err := openReady(ctx, d, args[0])
				if err != nil {
					return err
				}
				defer s.Close()
				rec, err := s.Move(ctx, args[1])
				if err != nil {
					return err
				}
				p := newPrinter(cmd, opts.Format, d.Messages)
				if !p.json() {
					p.line("game.moved", map[string]any{"Move": rec.LastMove})
				}
				return printCurrent(p, s)
			})
		},
	}
}

func newResignCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resign <game-id>",
		Short: "Resign a game on your turn",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDeps(cmd, true, func(ctx context.Context, d *chessbuilder.Deps) error {
				if err := d.RequireKey(); err != nil {
					return err
				}
				s, err := openReady(ctx, d, args[0])
				if err != nil {
					return err
				}
				defer s.Close()
				if _, err := s.Resign(ctx); err != nil {
					return err
				}
				p := newPrinter(cmd, opts.Format, d.Messages)
				if !p.json() {
					p.line("game.resigned", map[string]any{"GameID": s.GameID()})
				}
				return printCurrent(p, s)
			})
		},
	}
}

func printCurrent(p *printer, s *gamesync.Session) error {
	view, ok := s.View()
	if !ok {
		return gamesync.ErrNoState
	}
	return p.game(view)
}

func newWatchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <game-id>",
		Short: "Follow a game until it ends or the command is interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDeps(cmd, false, func(ctx context.Context, d *chessbuilder.Deps) error {
				s, err := openReady(ctx, d, args[0])
				if err != nil {
					return err
				}
				defer s.Close()
				p := newPrinter(cmd, opts.Format, d.Messages)
				if !p.json() {
					p.line("game.waiting", map[string]any{"Endpoints": strings.Join(s.Endpoints(), ", ")})
				}

				var last reconcile.View
				shown := false
				show := func(v reconcile.View) (bool, error) {
					if shown && v == last {
						return false, nil
					}
					last, shown = v, true
					return v.Record.Status.Terminal(), p.game(v)
				}
				if v, ok := s.View(); ok {
					if done, err := show(v); done || err != nil {
						return err
					}
				}
				for {
					select {
					case <-ctx.Done():
						return nil
					case v := <-s.Changes():
						if done, err := show(v); done || err != nil {
							return err
						}
					}
				}
			})
		},
	}
}

func newPracticeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "practice <move>...",
		Short: "Play both sides locally without publishing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDeps(cmd, true, func(ctx context.Context, d *chessbuilder.Deps) error {
				s := d.Controller.Practice()
				defer s.Close()
				for _, mv := range args {
					if _, err := s.Move(ctx, mv); err != nil {
						return err
					}
				}
				p := newPrinter(cmd, opts.Format, d.Messages)
				if !p.json() {
					p.line("game.practice", nil)
				}
				return printCurrent(p, s)
			})
		},
	}
}

func newGamesCommand(opts *RootOptions) *cobra.Command {
	var open, mine bool
	cmd := &cobra.Command{
		Use:   "games",
		Short: "List recent games seen on the relays",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDeps(cmd, true, func(ctx context.Context, d *chessbuilder.Deps) error {
				lo := lobby.Options{Limit: d.Config.LobbyLimit, OpenOnly: open}
				if open && !mine && !d.Ephemeral {
					lo.Exclude = d.Signer.PublicKey()
				}
				recs, err := lobby.List(ctx, d.Transport, d.Config.Relays, lo)
				if err != nil {
					return err
				}
				return newPrinter(cmd, opts.Format, d.Messages).games(recs)
			})
		},
	}
	cmd.Flags().BoolVar(&open, "open", false, "only games waiting for a second player")
	cmd.Flags().BoolVar(&mine, "mine", false, "with --open, include games you created")
	return cmd
}

func newRatingCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rating [identity]...",
		Short: "Replay game history into Elo ratings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDeps(cmd, true, func(ctx context.Context, d *chessbuilder.Deps) error {
				ids := args
				if len(ids) == 0 {
					if err := d.RequireKey(); err != nil {
						return err
					}
					ids = []string{d.Signer.PublicKey()}
				}
				p := newPrinter(cmd, opts.Format, d.Messages)
				views := make([]chessdto.ProfileView, 0, len(ids))
				for _, id := range ids {
					prof, err := d.Profiles.Get(ctx, strings.TrimSpace(id))
					if err != nil {
						return err
					}
					views = append(views, chessdto.NewProfileView(prof))
				}
				if p.json() {
					return p.emit(views)
				}
				for _, v := range views {
					p.line("rating.profile", v)
				}
				return nil
			})
		},
	}
}

func newHistoryCommand(opts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [identity]",
		Short: "Show archived finished games",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDeps(cmd, true, func(ctx context.Context, d *chessbuilder.Deps) error {
				id := d.Signer.PublicKey()
				if len(args) == 1 {
					id = args[0]
				}
				games, err := d.Archive.Recent(ctx, id, limit)
				if err != nil {
					return err
				}
				p := newPrinter(cmd, opts.Format, d.Messages)
				views := make([]chessdto.ArchivedGame, 0, len(games))
				for _, g := range games {
					views = append(views, chessdto.NewArchivedGame(g))
				}
				if p.json() {
					return p.emit(views)
				}
				if len(views) == 0 {
					p.line("lobby.empty", nil)
				}
				for _, v := range views {
					fmt.Fprintf(p.out, "%s\n\n", v.PGN)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum games to show")
	return cmd
}
