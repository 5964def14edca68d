package factory

import (
	"time"

	"github.com/mcoot/cryptoquiz-go/internal/dependencies/mocks"
	feedmemory "github.com/mcoot/cryptoquiz-go/internal/feed/memory"
	"github.com/mcoot/cryptoquiz-go/internal/model"
	"github.com/mcoot/cryptoquiz-go/internal/services/auth"
	"github.com/mcoot/cryptoquiz-go/internal/storage/memory"
	"github.com/mcoot/cryptoquiz-go/internal/testutil"
)

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	MockClock  *mocks.MockClock
	MockRandom *mocks.MockRandom

	// In-memory backends, exposed for assertions
	MemoryStorage *memory.Storage
	Broker        *feedmemory.Broker
}

// NewTestApp creates an App configured for testing with mocked dependencies.
// game overrides pacing and scoring defaults where set.
func NewTestApp(game model.GameConfig) *TestApp {
	store := memory.New()
	broker := feedmemory.NewBroker(testutil.NopLogger())
	mockClock := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	mockRandom := mocks.NewMockRandom()

	app := NewWithDeps(Deps{
		Storage: store,
		Feed:    broker,
		Clock:   mockClock,
		Random:  mockRandom,
		Logger:  testutil.NopLogger(),
		Game:    game,
		Auth:    auth.DefaultConfig(),
	})

	return &TestApp{
		App:           app,
		MockClock:     mockClock,
		MockRandom:    mockRandom,
		MemoryStorage: store,
		Broker:        broker,
	}
}
