// Package storagetest holds the behaviour every storage backend must share.
package storagetest

import (
	"context"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/cryptoquiz-go/internal/model"
	"github.com/mcoot/cryptoquiz-go/internal/storage"
)

// Suite runs the storage contract against Storage.
// Backend test suites embed it and set Storage and Ctx in SetupTest.
type Suite struct {
	suite.Suite
	Storage storage.Storage
	Ctx     context.Context
}

var baseTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func (s *Suite) newGame(id model.GameID, code model.GameCode) *model.GameSession {
	return &model.GameSession{
		ID:        id,
		Code:      code,
		HostID:    "host-1",
		Phase:     model.PhaseLobby,
		Config:    model.DefaultGameConfig(),
		CreatedAt: baseTime,
		UpdatedAt: baseTime,
	}
}

// Player tests

func (s *Suite) TestSaveAndGetPlayer() {
	player := &model.Player{ID: "player-1", DisplayName: "Alice", IsGuest: true, CreatedAt: baseTime}
	s.Require().NoError(s.Storage.SavePlayer(s.Ctx, player))

	retrieved, err := s.Storage.GetPlayer(s.Ctx, "player-1")
	s.Require().NoError(err)
	s.Equal(player.ID, retrieved.ID)
	s.Equal("Alice", retrieved.DisplayName)
	s.True(retrieved.IsGuest)
}

func (s *Suite) TestGetPlayerNotFound() {
	_, err := s.Storage.GetPlayer(s.Ctx, "nonexistent")
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

func (s *Suite) TestDeletePlayer() {
	s.Require().NoError(s.Storage.SavePlayer(s.Ctx, &model.Player{ID: "player-1", DisplayName: "Alice"}))
	s.Require().NoError(s.Storage.DeletePlayer(s.Ctx, "player-1"))

	_, err := s.Storage.GetPlayer(s.Ctx, "player-1")
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

// Game tests

func (s *Suite) TestCreateAndGetGame() {
	game := s.newGame("game-1", "123456")
	s.Require().NoError(s.Storage.CreateGame(s.Ctx, game))
	s.Equal(int64(1), game.Version)

	retrieved, err := s.Storage.GetGame(s.Ctx, "game-1")
	s.Require().NoError(err)
	s.Equal(model.PhaseLobby, retrieved.Phase)
	s.Equal(model.GameCode("123456"), retrieved.Code)
	s.Equal(model.PlayerID("host-1"), retrieved.HostID)
	s.Equal(model.DefaultGameConfig(), retrieved.Config)
	s.Equal(int64(1), retrieved.Version)

	byCode, err := s.Storage.GetGameByCode(s.Ctx, "123456")
	s.Require().NoError(err)
	s.Equal(model.GameID("game-1"), byCode.ID)

	exists, err := s.Storage.GameCodeExists(s.Ctx, "123456")
	s.Require().NoError(err)
	s.True(exists)

	exists, err = s.Storage.GameCodeExists(s.Ctx, "654321")
	s.Require().NoError(err)
	s.False(exists)
}

func (s *Suite) TestCreateGameRejectsTakenCode() {
	s.Require().NoError(s.Storage.CreateGame(s.Ctx, s.newGame("game-1", "123456")))

	err := s.Storage.CreateGame(s.Ctx, s.newGame("game-2", "123456"))
	s.ErrorIs(err, model.ErrGameCodeTaken)
}

func (s *Suite) TestGetGameNotFound() {
	_, err := s.Storage.GetGame(s.Ctx, "missing")
	s.ErrorIs(err, model.ErrGameNotFound)

	_, err = s.Storage.GetGameByCode(s.Ctx, "000000")
	s.ErrorIs(err, model.ErrGameNotFound)
}

func (s *Suite) TestUpdateGameIncrementsVersion() {
	game := s.newGame("game-1", "123456")
	s.Require().NoError(s.Storage.CreateGame(s.Ctx, game))

	game.Phase = model.PhaseQuiz
	game.QuestionStartTime = baseTime.Add(time.Minute)
	s.Require().NoError(s.Storage.UpdateGame(s.Ctx, game))
	s.Equal(int64(2), game.Version)

	retrieved, err := s.Storage.GetGame(s.Ctx, "game-1")
	s.Require().NoError(err)
	s.Equal(model.PhaseQuiz, retrieved.Phase)
	s.Equal(int64(2), retrieved.Version)
	s.True(retrieved.QuestionStartTime.Equal(baseTime.Add(time.Minute)))
}

func (s *Suite) TestUpdateGameRejectsStaleVersion() {
	game := s.newGame("game-1", "123456")
	s.Require().NoError(s.Storage.CreateGame(s.Ctx, game))

	first, err := s.Storage.GetGame(s.Ctx, "game-1")
	s.Require().NoError(err)
	second, err := s.Storage.GetGame(s.Ctx, "game-1")
	s.Require().NoError(err)

	first.Phase = model.PhaseQuiz
	s.Require().NoError(s.Storage.UpdateGame(s.Ctx, first))

	second.Phase = model.PhaseQuiz
	err = s.Storage.UpdateGame(s.Ctx, second)
	s.ErrorIs(err, model.ErrVersionConflict)
	s.Equal(int64(1), second.Version)
}

func (s *Suite) TestUpdateGameNotFound() {
	err := s.Storage.UpdateGame(s.Ctx, s.newGame("missing", "111111"))
	s.ErrorIs(err, model.ErrGameNotFound)
}

func (s *Suite) TestDeleteGameReleasesCode() {
	s.Require().NoError(s.Storage.CreateGame(s.Ctx, s.newGame("game-1", "123456")))
	s.Require().NoError(s.Storage.DeleteGame(s.Ctx, "game-1"))

	_, err := s.Storage.GetGame(s.Ctx, "game-1")
	s.ErrorIs(err, model.ErrGameNotFound)

	exists, err := s.Storage.GameCodeExists(s.Ctx, "123456")
	s.Require().NoError(err)
	s.False(exists)
}

// Membership tests

func (s *Suite) TestMembership() {
	s.Require().NoError(s.Storage.CreateGame(s.Ctx, s.newGame("game-1", "123456")))

	host := &model.GameMember{GameID: "game-1", PlayerID: "host-1", IsHost: true, JoinedAt: baseTime}
	player := &model.GameMember{GameID: "game-1", PlayerID: "player-1", JoinedAt: baseTime.Add(time.Second)}
	s.Require().NoError(s.Storage.AddMember(s.Ctx, host))
	s.Require().NoError(s.Storage.AddMember(s.Ctx, player))

	members, err := s.Storage.GetMembers(s.Ctx, "game-1")
	s.Require().NoError(err)
	s.Require().Len(members, 2)
	s.Equal(model.PlayerID("host-1"), members[0].PlayerID)
	s.True(members[0].IsHost)
	s.Equal(model.PlayerID("player-1"), members[1].PlayerID)

	m, err := s.Storage.GetMembership(s.Ctx, "player-1")
	s.Require().NoError(err)
	s.Equal(model.GameID("game-1"), m.GameID)

	s.Require().NoError(s.Storage.RemoveMember(s.Ctx, "game-1", "player-1"))
	_, err = s.Storage.GetMembership(s.Ctx, "player-1")
	s.ErrorIs(err, model.ErrNotInGame)
}

func (s *Suite) TestAddMemberRejectsSecondGame() {
	s.Require().NoError(s.Storage.AddMember(s.Ctx, &model.GameMember{GameID: "game-1", PlayerID: "player-1", JoinedAt: baseTime}))

	err := s.Storage.AddMember(s.Ctx, &model.GameMember{GameID: "game-2", PlayerID: "player-1", JoinedAt: baseTime})
	s.ErrorIs(err, model.ErrAlreadyInGame)
}

func (s *Suite) TestRemoveMemberIgnoresOtherGame() {
	s.Require().NoError(s.Storage.AddMember(s.Ctx, &model.GameMember{GameID: "game-1", PlayerID: "player-1", JoinedAt: baseTime}))
	s.Require().NoError(s.Storage.RemoveMember(s.Ctx, "game-2", "player-1"))

	m, err := s.Storage.GetMembership(s.Ctx, "player-1")
	s.Require().NoError(err)
	s.Equal(model.GameID("game-1"), m.GameID)
}

// Progress tests

func (s *Suite) TestSaveAndListProgress() {
	rows := []*model.PlayerProgress{
		{GameID: "game-1", PlayerID: "p-a", CurrentQuestionAnswered: 2, Score: 1},
		{GameID: "game-1", PlayerID: "p-b", CurrentQuestionAnswered: 2, Score: 2, Streak: 2},
		{GameID: "game-1", PlayerID: "p-c", CurrentQuestionAnswered: 1, Score: 1},
		{GameID: "game-2", PlayerID: "p-a", CurrentQuestionAnswered: 5, Score: 5},
	}
	for _, p := range rows {
		s.Require().NoError(s.Storage.SaveProgress(s.Ctx, p))
	}

	list, err := s.Storage.ListProgress(s.Ctx, "game-1")
	s.Require().NoError(err)
	s.Require().Len(list, 3)
	s.Equal(model.PlayerID("p-b"), list[0].PlayerID)
	s.Equal(model.PlayerID("p-a"), list[1].PlayerID)
	s.Equal(model.PlayerID("p-c"), list[2].PlayerID)

	p, err := s.Storage.GetProgress(s.Ctx, "game-1", "p-b")
	s.Require().NoError(err)
	s.Equal(2, p.Score)
	s.Equal(2, p.Streak)
}

func (s *Suite) TestSaveProgressOverwrites() {
	s.Require().NoError(s.Storage.SaveProgress(s.Ctx, &model.PlayerProgress{GameID: "game-1", PlayerID: "p-a", Score: 1}))
	s.Require().NoError(s.Storage.SaveProgress(s.Ctx, &model.PlayerProgress{GameID: "game-1", PlayerID: "p-a", Score: 3, CurrentQuestionAnswered: 4, Completed: true}))

	p, err := s.Storage.GetProgress(s.Ctx, "game-1", "p-a")
	s.Require().NoError(err)
	s.Equal(3, p.Score)
	s.Equal(4, p.CurrentQuestionAnswered)
	s.True(p.Completed)

	list, err := s.Storage.ListProgress(s.Ctx, "game-1")
	s.Require().NoError(err)
	s.Len(list, 1)
}

func (s *Suite) TestSaveProgressRefusesRegression() {
	s.Require().NoError(s.Storage.SaveProgress(s.Ctx, &model.PlayerProgress{GameID: "game-1", PlayerID: "p-a", CurrentQuestionAnswered: 1, Score: 1, Streak: 1}))

	err := s.Storage.SaveProgress(s.Ctx, &model.PlayerProgress{GameID: "game-1", PlayerID: "p-a", CurrentQuestionAnswered: 1})
	s.ErrorIs(err, model.ErrStaleProgress, "same count with a lower score")
	err = s.Storage.SaveProgress(s.Ctx, &model.PlayerProgress{GameID: "game-1", PlayerID: "p-a", Score: 5})
	s.ErrorIs(err, model.ErrStaleProgress, "fewer answers")

	p, err := s.Storage.GetProgress(s.Ctx, "game-1", "p-a")
	s.Require().NoError(err)
	s.Equal(1, p.Score)
	s.Equal(1, p.Streak)

	// Rewriting the same row is allowed
	s.Require().NoError(s.Storage.SaveProgress(s.Ctx, p))
	s.Require().NoError(s.Storage.SaveProgress(s.Ctx, &model.PlayerProgress{GameID: "game-1", PlayerID: "p-a", CurrentQuestionAnswered: 2, Score: 1}))
}

func (s *Suite) TestGetProgressNotFound() {
	_, err := s.Storage.GetProgress(s.Ctx, "game-1", "nobody")
	s.ErrorIs(err, model.ErrProgressNotFound)
}

func (s *Suite) TestListProgressEmpty() {
	list, err := s.Storage.ListProgress(s.Ctx, "game-1")
	s.Require().NoError(err)
	s.Empty(list)
}

// Key-value tests

func (s *Suite) TestValues() {
	_, err := s.Storage.GetValue(s.Ctx, storage.LastScoreKey("p-a"))
	s.ErrorIs(err, model.ErrKeyNotFound)

	s.Require().NoError(s.Storage.SetValue(s.Ctx, storage.LastScoreKey("p-a"), "175"))
	v, err := s.Storage.GetValue(s.Ctx, storage.LastScoreKey("p-a"))
	s.Require().NoError(err)
	s.Equal("175", v)
}
