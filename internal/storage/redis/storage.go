package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/cryptoquiz-go/internal/model"
	"github.com/mcoot/cryptoquiz-go/internal/storage"
)

// Storage is a Redis-backed implementation of the storage interface
type Storage struct {
	client *redis.Client
	cfg    Config
}

// New creates a new Redis storage instance
func New(cfg Config) (*Storage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Storage{
		client: client,
		cfg:    cfg,
	}, nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config) *Storage {
	return &Storage{
		client: client,
		cfg:    cfg,
	}
}

// Client exposes the underlying connection so the change feed can share it
func (s *Storage) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// getJSON loads key into v, returning notFound when the key is missing
func (s *Storage) getJSON(ctx context.Context, key string, v any, notFound error) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return notFound
		}
		return err
	}
	return json.Unmarshal(data, v)
}

// Player operations

func (s *Storage) SavePlayer(ctx context.Context, player *model.Player) error {
	data, err := json.Marshal(player)
	if err != nil {
		return err
	}

	// Apply TTL only for guest players
	var ttl time.Duration
	if player.IsGuest {
		ttl = s.cfg.GuestPlayerTTL
	}
	return s.client.Set(ctx, playerKey(player.ID), data, ttl).Err()
}

func (s *Storage) GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	var player model.Player
	if err := s.getJSON(ctx, playerKey(id), &player, model.ErrPlayerNotFound); err != nil {
		return nil, err
	}
	return &player, nil
}

func (s *Storage) DeletePlayer(ctx context.Context, id model.PlayerID) error {
	return s.client.Del(ctx, playerKey(id)).Err()
}

// Game operations

func (s *Storage) CreateGame(ctx context.Context, game *model.GameSession) error {
	// Claim the code first so two hosts cannot share one
	claimed, err := s.client.SetNX(ctx, gameCodeIndexKey(game.Code), string(game.ID), s.cfg.GameTTL).Result()
	if err != nil {
		return err
	}
	if !claimed {
		return model.ErrGameCodeTaken
	}

	stored := game.Clone()
	stored.Version = 1
	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, gameKey(game.ID), data, s.cfg.GameTTL).Err(); err != nil {
		return err
	}
	game.Version = 1
	return nil
}

func (s *Storage) GetGame(ctx context.Context, id model.GameID) (*model.GameSession, error) {
	var game model.GameSession
	if err := s.getJSON(ctx, gameKey(id), &game, model.ErrGameNotFound); err != nil {
		return nil, err
	}
	return &game, nil
}

func (s *Storage) GetGameByCode(ctx context.Context, code model.GameCode) (*model.GameSession, error) {
	id, err := s.client.Get(ctx, gameCodeIndexKey(code)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrGameNotFound
		}
		return nil, err
	}
	return s.GetGame(ctx, model.GameID(id))
}

func (s *Storage) GameCodeExists(ctx context.Context, code model.GameCode) (bool, error) {
	exists, err := s.client.Exists(ctx, gameCodeIndexKey(code)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

func (s *Storage) UpdateGame(ctx context.Context, game *model.GameSession) error {
	key := gameKey(game.ID)

	// Optimistic lock: the transaction aborts if the key changes after WATCH
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return model.ErrGameNotFound
			}
			return err
		}

		var current model.GameSession
		if err := json.Unmarshal(data, &current); err != nil {
			return err
		}
		if current.Version != game.Version {
			return model.ErrVersionConflict
		}

		next := game.Clone()
		next.Version++
		payload, err := json.Marshal(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.cfg.GameTTL)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return model.ErrVersionConflict
	}
	if err != nil {
		return err
	}
	game.Version++
	return nil
}

func (s *Storage) DeleteGame(ctx context.Context, id model.GameID) error {
	game, err := s.GetGame(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrGameNotFound) {
			return nil
		}
		return err
	}

	playerIDs, err := s.client.SMembers(ctx, membersForGameIndexKey(id)).Result()
	if err != nil {
		return err
	}
	progressKeys, err := s.client.SMembers(ctx, progressForGameIndexKey(id)).Result()
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, gameKey(id), gameCodeIndexKey(game.Code))
	for _, playerID := range playerIDs {
		pipe.Del(ctx, memberKey(model.PlayerID(playerID)))
	}
	for _, key := range progressKeys {
		pipe.Del(ctx, key)
	}
	pipe.Del(ctx, membersForGameIndexKey(id), progressForGameIndexKey(id))
	_, err = pipe.Exec(ctx)
	return err
}

// Membership operations

func (s *Storage) AddMember(ctx context.Context, member *model.GameMember) error {
	data, err := json.Marshal(member)
	if err != nil {
		return err
	}

	key := memberKey(member.PlayerID)
	indexKey := membersForGameIndexKey(member.GameID)

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		existing, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var current model.GameMember
			if err := json.Unmarshal(existing, &current); err != nil {
				return err
			}
			if current.GameID != member.GameID {
				return model.ErrAlreadyInGame
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.cfg.GameTTL)
			pipe.SAdd(ctx, indexKey, string(member.PlayerID))
			pipe.Expire(ctx, indexKey, s.cfg.GameTTL)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return model.ErrAlreadyInGame
	}
	return err
}

func (s *Storage) RemoveMember(ctx context.Context, gameID model.GameID, playerID model.PlayerID) error {
	member, err := s.GetMembership(ctx, playerID)
	if err != nil {
		if errors.Is(err, model.ErrNotInGame) {
			return nil
		}
		return err
	}
	if member.GameID != gameID {
		return nil
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, memberKey(playerID))
	pipe.SRem(ctx, membersForGameIndexKey(gameID), string(playerID))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) GetMembers(ctx context.Context, gameID model.GameID) ([]*model.GameMember, error) {
	playerIDs, err := s.client.SMembers(ctx, membersForGameIndexKey(gameID)).Result()
	if err != nil {
		return nil, err
	}
	if len(playerIDs) == 0 {
		return []*model.GameMember{}, nil
	}

	keys := make([]string, len(playerIDs))
	for i, id := range playerIDs {
		keys[i] = memberKey(model.PlayerID(id))
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	members := make([]*model.GameMember, 0, len(values))
	for _, val := range values {
		str, ok := val.(string)
		if !ok {
			continue // Membership may have expired
		}
		var member model.GameMember
		if err := json.Unmarshal([]byte(str), &member); err != nil {
			continue
		}
		if member.GameID != gameID {
			continue // Player has since moved on
		}
		members = append(members, &member)
	}

	sort.Slice(members, func(i, j int) bool {
		if members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].PlayerID < members[j].PlayerID
		}
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	return members, nil
}

func (s *Storage) GetMembership(ctx context.Context, playerID model.PlayerID) (*model.GameMember, error) {
	var member model.GameMember
	if err := s.getJSON(ctx, memberKey(playerID), &member, model.ErrNotInGame); err != nil {
		return nil, err
	}
	return &member, nil
}

// Progress operations

func (s *Storage) SaveProgress(ctx context.Context, progress *model.PlayerProgress) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return err
	}

	pKey := progressKey(progress.GameID, progress.PlayerID)
	indexKey := progressForGameIndexKey(progress.GameID)

	// Optimistic lock so a row never moves backwards
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, pKey).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var stored model.PlayerProgress
			if err := json.Unmarshal(cur, &stored); err != nil {
				return err
			}
			if stored.Ahead(progress) {
				return model.ErrStaleProgress
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, pKey, data, s.cfg.GameTTL)
			pipe.SAdd(ctx, indexKey, pKey)
			pipe.Expire(ctx, indexKey, s.cfg.GameTTL) // Keep index TTL in sync
			return nil
		})
		return err
	}, pKey)

	if errors.Is(err, redis.TxFailedErr) {
		return model.ErrStaleProgress
	}
	return err
}

func (s *Storage) GetProgress(ctx context.Context, gameID model.GameID, playerID model.PlayerID) (*model.PlayerProgress, error) {
	var progress model.PlayerProgress
	if err := s.getJSON(ctx, progressKey(gameID, playerID), &progress, model.ErrProgressNotFound); err != nil {
		return nil, err
	}
	return &progress, nil
}

func (s *Storage) ListProgress(ctx context.Context, gameID model.GameID) ([]*model.PlayerProgress, error) {
	keys, err := s.client.SMembers(ctx, progressForGameIndexKey(gameID)).Result()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []*model.PlayerProgress{}, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	rows := make([]*model.PlayerProgress, 0, len(values))
	for _, val := range values {
		str, ok := val.(string)
		if !ok {
			continue
		}
		var progress model.PlayerProgress
		if err := json.Unmarshal([]byte(str), &progress); err != nil {
			continue
		}
		rows = append(rows, &progress)
	}

	storage.SortProgress(rows)
	return rows, nil
}

// Key-value operations

func (s *Storage) SetValue(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, valueKey(key), value, s.cfg.ValueTTL).Err()
}

func (s *Storage) GetValue(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, valueKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", model.ErrKeyNotFound
		}
		return "", err
	}
	return v, nil
}
