package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/mcoot/cryptoquiz-go/internal/model"
	"github.com/mcoot/cryptoquiz-go/internal/storage"
)

// Storage is an in-memory implementation of the storage interface
type Storage struct {
	mu sync.RWMutex

	players   map[model.PlayerID]*model.Player
	games     map[model.GameID]*model.GameSession
	codeIndex map[model.GameCode]model.GameID
	members   map[model.PlayerID]*model.GameMember
	progress  map[progressKey]*model.PlayerProgress
	values    map[string]string
}

type progressKey struct {
	gameID   model.GameID
	playerID model.PlayerID
}

// New creates a new in-memory storage instance
func New() *Storage {
	return &Storage{
		players:   make(map[model.PlayerID]*model.Player),
		games:     make(map[model.GameID]*model.GameSession),
		codeIndex: make(map[model.GameCode]model.GameID),
		members:   make(map[model.PlayerID]*model.GameMember),
		progress:  make(map[progressKey]*model.PlayerProgress),
		values:    make(map[string]string),
	}
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// Player operations

func (s *Storage) SavePlayer(ctx context.Context, player *model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := *player
	s.players[player.ID] = &p
	return nil
}

func (s *Storage) GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	player, ok := s.players[id]
	if !ok {
		return nil, model.ErrPlayerNotFound
	}
	p := *player
	return &p, nil
}

func (s *Storage) DeletePlayer(ctx context.Context, id model.PlayerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.players, id)
	return nil
}

// Game operations

func (s *Storage) CreateGame(ctx context.Context, game *model.GameSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.codeIndex[game.Code]; taken {
		return model.ErrGameCodeTaken
	}
	game.Version = 1
	s.games[game.ID] = game.Clone()
	s.codeIndex[game.Code] = game.ID
	return nil
}

func (s *Storage) GetGame(ctx context.Context, id model.GameID) (*model.GameSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	game, ok := s.games[id]
	if !ok {
		return nil, model.ErrGameNotFound
	}
	return game.Clone(), nil
}

func (s *Storage) GetGameByCode(ctx context.Context, code model.GameCode) (*model.GameSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.codeIndex[code]
	if !ok {
		return nil, model.ErrGameNotFound
	}
	game, ok := s.games[id]
	if !ok {
		return nil, model.ErrGameNotFound
	}
	return game.Clone(), nil
}

func (s *Storage) GameCodeExists(ctx context.Context, code model.GameCode) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.codeIndex[code]
	return ok, nil
}

func (s *Storage) UpdateGame(ctx context.Context, game *model.GameSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.games[game.ID]
	if !ok {
		return model.ErrGameNotFound
	}
	if current.Version != game.Version {
		return model.ErrVersionConflict
	}
	game.Version++
	s.games[game.ID] = game.Clone()
	return nil
}

func (s *Storage) DeleteGame(ctx context.Context, id model.GameID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if game, ok := s.games[id]; ok {
		delete(s.codeIndex, game.Code)
	}
	delete(s.games, id)
	for key := range s.progress {
		if key.gameID == id {
			delete(s.progress, key)
		}
	}
	for playerID, m := range s.members {
		if m.GameID == id {
			delete(s.members, playerID)
		}
	}
	return nil
}

// Membership operations

func (s *Storage) AddMember(ctx context.Context, member *model.GameMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.members[member.PlayerID]; ok && existing.GameID != member.GameID {
		return model.ErrAlreadyInGame
	}
	m := *member
	s.members[member.PlayerID] = &m
	return nil
}

func (s *Storage) RemoveMember(ctx context.Context, gameID model.GameID, playerID model.PlayerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.members[playerID]; ok && m.GameID == gameID {
		delete(s.members, playerID)
	}
	return nil
}

func (s *Storage) GetMembers(ctx context.Context, gameID model.GameID) ([]*model.GameMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var members []*model.GameMember
	for _, m := range s.members {
		if m.GameID == gameID {
			c := *m
			members = append(members, &c)
		}
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
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[playerID]
	if !ok {
		return nil, model.ErrNotInGame
	}
	c := *m
	return &c, nil
}

// Progress operations

func (s *Storage) SaveProgress(ctx context.Context, progress *model.PlayerProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := progressKey{progress.GameID, progress.PlayerID}
	if cur, ok := s.progress[key]; ok && cur.Ahead(progress) {
		return model.ErrStaleProgress
	}
	s.progress[key] = progress.Clone()
	return nil
}

func (s *Storage) GetProgress(ctx context.Context, gameID model.GameID, playerID model.PlayerID) (*model.PlayerProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.progress[progressKey{gameID, playerID}]
	if !ok {
		return nil, model.ErrProgressNotFound
	}
	return p.Clone(), nil
}

func (s *Storage) ListProgress(ctx context.Context, gameID model.GameID) ([]*model.PlayerProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rows []*model.PlayerProgress
	for key, p := range s.progress {
		if key.gameID == gameID {
			rows = append(rows, p.Clone())
		}
	}
	storage.SortProgress(rows)
	return rows, nil
}

// Key-value operations

func (s *Storage) SetValue(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *Storage) GetValue(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return "", model.ErrKeyNotFound
	}
	return v, nil
}
