package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/Cheese-Relay-Chess/internal/domain"
)

const schema = `CREATE TABLE IF NOT EXISTS relay_chess_games (
    game_id        TEXT PRIMARY KEY,
    white_id       TEXT NOT NULL,
    black_id       TEXT NOT NULL,
    status         TEXT NOT NULL,
    result         TEXT NOT NULL,
    final_position TEXT NOT NULL,
    moves_san      JSONB NOT NULL,
    pgn            TEXT NOT NULL,
    endpoint       TEXT NOT NULL,
    finished_at    TIMESTAMPTZ NOT NULL
)`

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(databaseURL string) (*PostgresRepository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Save upserts a finished game.
func (r *PostgresRepository) Save(ctx context.Context, g FinishedGame) error {
	movesRaw, err := json.Marshal(g.Moves)
	if err != nil {
		return fmt.Errorf("marshal moves: %w", err)
	}
	if g.Moves == nil {
		movesRaw = []byte("[]")
	}

	q := `INSERT INTO relay_chess_games (
        game_id, white_id, black_id, status, result,
        final_position, moves_san, pgn, endpoint, finished_at
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
      ) ON CONFLICT (game_id) DO UPDATE SET
        white_id=EXCLUDED.white_id,
        black_id=EXCLUDED.black_id,
        status=EXCLUDED.status,
        result=EXCLUDED.result,
        final_position=EXCLUDED.final_position,
        moves_san=EXCLUDED.moves_san,
        pgn=EXCLUDED.pgn,
        endpoint=EXCLUDED.endpoint,
        finished_at=EXCLUDED.finished_at`

	_, err = r.db.ExecContext(ctx, q,
		g.GameID, g.White, g.Black, string(g.Status), string(g.Result),
		g.FinalPosition, string(movesRaw), g.PGN, g.Endpoint, g.FinishedAt,
	)
	return err
}

const selectColumns = `SELECT game_id, white_id, black_id, status, result,
        final_position, moves_san, pgn, endpoint, finished_at
      FROM relay_chess_games`

func (r *PostgresRepository) Get(ctx context.Context, gameID string) (FinishedGame, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE game_id=$1`, gameID)
	g, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return FinishedGame{}, ErrNotFound
	}
	return g, err
}

func (r *PostgresRepository) Recent(ctx context.Context, identity string, limit int) ([]FinishedGame, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx,
		selectColumns+` WHERE ($1 = '' OR white_id=$1 OR black_id=$1) ORDER BY finished_at DESC, game_id LIMIT $2`,
		identity, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FinishedGame
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGame(s scanner) (FinishedGame, error) {
	var (
		g        FinishedGame
		status   string
		result   string
		movesRaw []byte
	)
	if err := s.Scan(&g.GameID, &g.White, &g.Black, &status, &result,
		&g.FinalPosition, &movesRaw, &g.PGN, &g.Endpoint, &g.FinishedAt); err != nil {
		return FinishedGame{}, err
	}
	g.Status = domain.Status(status)
	g.Result = domain.Result(result)
	if len(movesRaw) > 0 {
		if err := json.Unmarshal(movesRaw, &g.Moves); err != nil {
			return FinishedGame{}, fmt.Errorf("decode moves: %w", err)
		}
	}
	return g, nil
}
