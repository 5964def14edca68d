package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcoot/cryptoquiz-go/internal/model"
	"github.com/mcoot/cryptoquiz-go/internal/storage"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// Config holds Postgres connection settings
type Config struct {
	URL      string
	MaxConns int32
}

// DefaultConfig returns the default Postgres configuration
func DefaultConfig() Config {
	return Config{
		URL:      "postgres://localhost:5432/cryptoquiz?sslmode=disable",
		MaxConns: 10,
	}
}

// Storage is a Postgres-backed implementation of the storage interface
type Storage struct {
	pool *pgxpool.Pool
}

// New connects to Postgres and verifies the connection
func New(ctx context.Context, cfg Config) (*Storage, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}

	return &Storage{pool: pool}, nil
}

// Migrate creates the tables if they do not exist
func (s *Storage) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close releases the connection pool
func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

var _ storage.Storage = (*Storage)(nil)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Player operations

func (s *Storage) SavePlayer(ctx context.Context, player *model.Player) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_profiles (id, display_name, is_guest, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET display_name = EXCLUDED.display_name, is_guest = EXCLUDED.is_guest`,
		player.ID, player.DisplayName, player.IsGuest, player.CreatedAt)
	return err
}

func (s *Storage) GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	var player model.Player
	err := s.pool.QueryRow(ctx, `
		SELECT id, display_name, is_guest, created_at FROM user_profiles WHERE id = $1`, id).
		Scan(&player.ID, &player.DisplayName, &player.IsGuest, &player.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrPlayerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &player, nil
}

func (s *Storage) DeletePlayer(ctx context.Context, id model.PlayerID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM user_profiles WHERE id = $1`, id)
	return err
}

// Game operations

func (s *Storage) CreateGame(ctx context.Context, game *model.GameSession) error {
	stored := game.Clone()
	stored.Version = 1
	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO games (id, code, version, data, updated_at) VALUES ($1, $2, 1, $3, now())`,
		game.ID, game.Code, data)
	if isUniqueViolation(err) {
		return model.ErrGameCodeTaken
	}
	if err != nil {
		return err
	}
	game.Version = 1
	return nil
}

func (s *Storage) scanGame(row pgx.Row) (*model.GameSession, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrGameNotFound
		}
		return nil, err
	}
	var game model.GameSession
	if err := json.Unmarshal(data, &game); err != nil {
		return nil, err
	}
	return &game, nil
}

func (s *Storage) GetGame(ctx context.Context, id model.GameID) (*model.GameSession, error) {
	return s.scanGame(s.pool.QueryRow(ctx, `SELECT data FROM games WHERE id = $1`, id))
}

func (s *Storage) GetGameByCode(ctx context.Context, code model.GameCode) (*model.GameSession, error) {
	return s.scanGame(s.pool.QueryRow(ctx, `SELECT data FROM games WHERE code = $1`, code))
}

func (s *Storage) GameCodeExists(ctx context.Context, code model.GameCode) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM games WHERE code = $1)`, code).Scan(&exists)
	return exists, err
}

func (s *Storage) UpdateGame(ctx context.Context, game *model.GameSession) error {
	next := game.Clone()
	next.Version++
	data, err := json.Marshal(next)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE games SET data = $1, version = $2, updated_at = now()
		WHERE id = $3 AND version = $4`,
		data, next.Version, game.ID, game.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing row from a lost race
		if _, err := s.GetGame(ctx, game.ID); err != nil {
			return err
		}
		return model.ErrVersionConflict
	}
	game.Version = next.Version
	return nil
}

func (s *Storage) DeleteGame(ctx context.Context, id model.GameID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, q := range []string{
		`DELETE FROM game_progress WHERE game_id = $1`,
		`DELETE FROM game_players WHERE game_id = $1`,
		`DELETE FROM games WHERE id = $1`,
	} {
		if _, err := tx.Exec(ctx, q, id); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// Membership operations

func (s *Storage) AddMember(ctx context.Context, member *model.GameMember) error {
	// A player holds at most one membership; re-joining the same game is a no-op update
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO game_players (player_id, game_id, is_host, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (player_id) DO UPDATE
		SET is_host = EXCLUDED.is_host
		WHERE game_players.game_id = EXCLUDED.game_id`,
		member.PlayerID, member.GameID, member.IsHost, member.JoinedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrAlreadyInGame
	}
	return nil
}

func (s *Storage) RemoveMember(ctx context.Context, gameID model.GameID, playerID model.PlayerID) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM game_players WHERE game_id = $1 AND player_id = $2`, gameID, playerID)
	return err
}

func (s *Storage) GetMembers(ctx context.Context, gameID model.GameID) ([]*model.GameMember, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT game_id, player_id, is_host, joined_at FROM game_players
		WHERE game_id = $1 ORDER BY joined_at, player_id`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []*model.GameMember{}
	for rows.Next() {
		var m model.GameMember
		if err := rows.Scan(&m.GameID, &m.PlayerID, &m.IsHost, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}

func (s *Storage) GetMembership(ctx context.Context, playerID model.PlayerID) (*model.GameMember, error) {
	var m model.GameMember
	err := s.pool.QueryRow(ctx, `
		SELECT game_id, player_id, is_host, joined_at FROM game_players WHERE player_id = $1`, playerID).
		Scan(&m.GameID, &m.PlayerID, &m.IsHost, &m.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotInGame
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Progress operations

func (s *Storage) SaveProgress(ctx context.Context, p *model.PlayerProgress) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO game_progress
			(game_id, player_id, current_question_answered, score, streak, completed, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (game_id, player_id) DO UPDATE SET
			current_question_answered = EXCLUDED.current_question_answered,
			score = EXCLUDED.score,
			streak = EXCLUDED.streak,
			completed = EXCLUDED.completed,
			updated_at = EXCLUDED.updated_at
		WHERE game_progress.current_question_answered < EXCLUDED.current_question_answered
			OR (game_progress.current_question_answered = EXCLUDED.current_question_answered
				AND game_progress.score <= EXCLUDED.score)`,
		p.GameID, p.PlayerID, p.CurrentQuestionAnswered, p.Score, p.Streak, p.Completed, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrStaleProgress
	}
	return nil
}

const progressColumns = `game_id, player_id, current_question_answered, score, streak, completed, updated_at`

func scanProgress(row pgx.Row) (*model.PlayerProgress, error) {
	var p model.PlayerProgress
	err := row.Scan(&p.GameID, &p.PlayerID, &p.CurrentQuestionAnswered, &p.Score, &p.Streak, &p.Completed, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Storage) GetProgress(ctx context.Context, gameID model.GameID, playerID model.PlayerID) (*model.PlayerProgress, error) {
	p, err := scanProgress(s.pool.QueryRow(ctx,
		`SELECT `+progressColumns+` FROM game_progress WHERE game_id = $1 AND player_id = $2`,
		gameID, playerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrProgressNotFound
	}
	return p, err
}

func (s *Storage) ListProgress(ctx context.Context, gameID model.GameID) ([]*model.PlayerProgress, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+progressColumns+` FROM game_progress WHERE game_id = $1
		ORDER BY score DESC, current_question_answered DESC, player_id`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []*model.PlayerProgress{}
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// Key-value operations

func (s *Storage) SetValue(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO kv_store (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	return err
}

func (s *Storage) GetValue(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM kv_store WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", model.ErrKeyNotFound
	}
	return value, err
}
