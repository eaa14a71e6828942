package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/park285/Cheese-Relay-Chess/internal/chessbuilder"
	"github.com/park285/Cheese-Relay-Chess/internal/domain"
	"github.com/park285/Cheese-Relay-Chess/internal/msgcat"
	"github.com/park285/Cheese-Relay-Chess/internal/reconcile"
	"github.com/park285/Cheese-Relay-Chess/pkg/chessdto"
)

// errReported marks an error already written to the output.
var errReported = errors.New("command failed")

type printer struct {
	out    io.Writer
	format string
	msgs   *msgcat.Catalog
}

func newPrinter(cmd *cobra.Command, format string, msgs *msgcat.Catalog) *printer {
	return &printer{out: cmd.OutOrStdout(), format: format, msgs: msgs}
}

func (p *printer) json() bool { return p.format == "json" }

func (p *printer) line(key string, data any) {
	fmt.Fprintln(p.out, p.msgs.Text(key, data))
}

func (p *printer) emit(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// fail reports a domain error in the selected format.
func (p *printer) fail(err error) error {
	if err == nil || errors.Is(err, errReported) {
		return err
	}
	de := chessdto.FromError(err)
	if errors.Is(err, chessbuilder.ErrReadOnly) {
		de.Code = "no_key"
	}
	if p.json() {
		_ = p.emit(map[string]any{"error": de})
		return errReported
	}
	if de.Code == chessdto.CodeInternal {
		return err
	}
	if msg, rerr := p.msgs.Render("error."+de.Code, errorData(err)); rerr == nil {
		fmt.Fprintln(p.out, msg)
		return errReported
	}
	return err
}

func errorData(err error) map[string]string {
	move := err.Error()
	if i := strings.LastIndex(move, ": "); i >= 0 {
		move = move[i+2:]
	}
	return map[string]string{"Move": move}
}

func (p *printer) game(view reconcile.View) error {
	v := chessdto.NewSyncedGameView(view)
	if p.json() {
		return p.emit(v)
	}
	black := v.Black
	if black == "" {
		black = "-"
	}
	p.line("game.header", map[string]any{"GameID": v.GameID, "Status": v.Status, "Sync": v.Sync})
	p.line("game.players", map[string]any{"White": v.White, "Black": black})
	p.line("game.position", map[string]any{"Position": v.Position})
	if v.LastMove != "" {
		p.line("game.last_move", map[string]any{"LastMove": v.LastMove})
	}
	if v.Result != "" {
		p.line("game.result", map[string]any{"Result": v.Result})
	} else if view.Record.Status == domain.StatusInProgress {
		p.line("game.turn", map[string]any{"Side": v.SideToMove})
	}
	return nil
}

func (p *printer) games(recs []domain.GameRecord) error {
	views := make([]chessdto.GameView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, chessdto.NewGameView(rec))
	}
	if p.json() {
		return p.emit(views)
	}
	if len(views) == 0 {
		p.line("lobby.empty", nil)
		return nil
	}
	p.line("lobby.header", map[string]any{"Count": len(views)})
	for _, v := range views {
		black := v.Black
		if black == "" {
			black = "?"
		}
		p.line("lobby.row", map[string]any{"GameID": v.GameID, "Status": v.Status, "White": short(v.White), "Black": short(black)})
	}
	return nil
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
