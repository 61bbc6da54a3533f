package behavior_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiestudio/aichatbot-sub000/pkg/behavior"
	"github.com/axiestudio/aichatbot-sub000/pkg/cache/mocks"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// localStore returns a baseline store whose shared cache is unreachable,
// so every operation runs against instance-local state.
func localStore(cfg behavior.Config) behavior.Store {
	db, _ := redismock.NewClientMock()
	client := mocks.NewClientMock(db)
	client.Unhealthy = true
	client.ExecuteErr = errors.New("circuit breaker is open")
	return behavior.NewStore(client, testLogger(), cfg)
}

func at(hour, min, sec int) time.Time {
	return time.Date(2025, 3, 3, hour, min, sec, 0, time.UTC)
}

func TestColdStartScoresZero(t *testing.T) {
	s := localStore(behavior.Config{})
	ctx := context.Background()

	score := s.ScoreAnomaly(ctx, "alice", "POST /login", behavior.ActionContext{
		SourceAddress: "10.0.0.1",
		Timestamp:     at(10, 0, 0),
	})
	assert.Zero(t, score)

	score = s.ScoreAnomaly(ctx, "alice", "GET /home", behavior.ActionContext{
		SourceAddress: "10.0.0.1",
		Timestamp:     at(10, 5, 0),
	})
	assert.Zero(t, score, "usual hour and address deviate from nothing")
}

func TestAtypicalHourPenalty(t *testing.T) {
	s := localStore(behavior.Config{})
	ctx := context.Background()

	s.ScoreAnomaly(ctx, "bob", "GET /home", behavior.ActionContext{
		SourceAddress: "10.0.0.1",
		Timestamp:     at(10, 0, 0),
	})
	score := s.ScoreAnomaly(ctx, "bob", "GET /account", behavior.ActionContext{
		SourceAddress: "10.0.0.1",
		Timestamp:     time.Date(2025, 3, 4, 3, 0, 0, 0, time.UTC),
	})
	assert.InDelta(t, 0.3, score, 1e-9)
}

func TestAtypicalAddressPenalty(t *testing.T) {
	s := localStore(behavior.Config{})
	ctx := context.Background()

	s.ScoreAnomaly(ctx, "carol", "GET /home", behavior.ActionContext{
		SourceAddress: "10.0.0.1",
		Timestamp:     at(10, 0, 0),
	})
	score := s.ScoreAnomaly(ctx, "carol", "GET /account", behavior.ActionContext{
		SourceAddress: "198.51.100.7",
		Timestamp:     at(10, 30, 0),
	})
	assert.InDelta(t, 0.4, score, 1e-9)
}

func TestFastRepeatPenalty(t *testing.T) {
	s := localStore(behavior.Config{})
	ctx := context.Background()
	actx := func(ts time.Time) behavior.ActionContext {
		return behavior.ActionContext{SourceAddress: "10.0.0.1", Timestamp: ts}
	}

	s.ScoreAnomaly(ctx, "dave", "POST /transfer", actx(at(10, 0, 0)))
	s.ScoreAnomaly(ctx, "dave", "POST /transfer", actx(at(10, 10, 0)))

	score := s.ScoreAnomaly(ctx, "dave", "POST /transfer", actx(at(10, 10, 30)))
	assert.InDelta(t, 0.5, score, 1e-9, "30s against a 600s typical interval")
}

func TestFastRepeatBoundaryIsNotAnomalous(t *testing.T) {
	s := localStore(behavior.Config{})
	ctx := context.Background()
	actx := func(ts time.Time) behavior.ActionContext {
		return behavior.ActionContext{SourceAddress: "10.0.0.1", Timestamp: ts}
	}

	s.ScoreAnomaly(ctx, "erin", "POST /transfer", actx(at(10, 0, 0)))
	s.ScoreAnomaly(ctx, "erin", "POST /transfer", actx(at(10, 10, 0)))

	// Exactly ratio*typical: 120s against 0.2*600s.
	score := s.ScoreAnomaly(ctx, "erin", "POST /transfer", actx(at(10, 12, 0)))
	assert.Zero(t, score)
}

func TestPenaltiesStackAndCapAtOne(t *testing.T) {
	s := localStore(behavior.Config{})
	ctx := context.Background()

	s.ScoreAnomaly(ctx, "frank", "POST /pay", behavior.ActionContext{
		SourceAddress: "10.0.0.1",
		Timestamp:     at(9, 59, 0),
	})
	s.ScoreAnomaly(ctx, "frank", "POST /pay", behavior.ActionContext{
		SourceAddress: "10.0.0.1",
		Timestamp:     at(10, 59, 0),
	})

	// New hour, new address, and a 60s repeat against a 3600s typical
	// interval: 0.3+0.4+0.5 capped to 1.
	score := s.ScoreAnomaly(ctx, "frank", "POST /pay", behavior.ActionContext{
		SourceAddress: "203.0.113.5",
		Timestamp:     at(11, 0, 0),
	})
	assert.InDelta(t, 1.0, score, 1e-9)
}

func TestRetentionRebuildsBaseline(t *testing.T) {
	s := localStore(behavior.Config{Retention: time.Hour})
	ctx := context.Background()

	s.ScoreAnomaly(ctx, "grace", "GET /a", behavior.ActionContext{
		SourceAddress: "10.0.0.1",
		Timestamp:     at(10, 0, 0),
	})

	// Two hours later the old observation is past retention, but scoring
	// still sees the baseline as written, so the hour reads as atypical.
	score := s.ScoreAnomaly(ctx, "grace", "GET /b", behavior.ActionContext{
		SourceAddress: "10.0.0.1",
		Timestamp:     at(12, 0, 0),
	})
	assert.InDelta(t, 0.3, score, 1e-9)

	profile, ok := s.Profile(ctx, "grace")
	require.True(t, ok)
	require.Len(t, profile.History, 1, "expired observation pruned on write")
	assert.Equal(t, "GET /b", profile.History[0].Action)
	assert.Equal(t, map[int]bool{12: true}, profile.TypicalHours)
	assert.Equal(t, map[string]int64{"GET /b": 1}, profile.ActionFrequency)

	score = s.ScoreAnomaly(ctx, "grace", "GET /c", behavior.ActionContext{
		SourceAddress: "10.0.0.1",
		Timestamp:     at(12, 1, 0),
	})
	assert.Zero(t, score, "rebuilt baseline treats hour 12 as typical")
}

func TestMaxHistoryBound(t *testing.T) {
	s := localStore(behavior.Config{MaxHistory: 3})
	ctx := context.Background()

	actions := []string{"GET /1", "GET /2", "GET /3", "GET /4", "GET /5"}
	for i, action := range actions {
		s.ScoreAnomaly(ctx, "heidi", action, behavior.ActionContext{
			SourceAddress: "10.0.0.1",
			Timestamp:     at(10, i, 0),
		})
	}

	profile, ok := s.Profile(ctx, "heidi")
	require.True(t, ok)
	require.Len(t, profile.History, 3)
	assert.Equal(t, "GET /3", profile.History[0].Action)
	assert.Equal(t, "GET /5", profile.History[2].Action)
}

func TestSurvivesSharedCacheErrors(t *testing.T) {
	// No expectations registered: every Redis command fails, which must
	// degrade to local state instead of breaking scoring.
	db, _ := redismock.NewClientMock()
	client := mocks.NewClientMock(db)
	s := behavior.NewStore(client, testLogger(), behavior.Config{})
	ctx := context.Background()

	score := s.ScoreAnomaly(ctx, "ivan", "GET /home", behavior.ActionContext{
		SourceAddress: "10.0.0.1",
		Timestamp:     at(10, 0, 0),
	})
	assert.Zero(t, score)

	score = s.ScoreAnomaly(ctx, "ivan", "GET /account", behavior.ActionContext{
		SourceAddress: "198.51.100.7",
		Timestamp:     at(10, 30, 0),
	})
	assert.InDelta(t, 0.4, score, 1e-9, "baseline survived in local state")
}

func TestSharedCacheRoundTrip(t *testing.T) {
	db, rmock := redismock.NewClientMock()
	client := mocks.NewClientMock(db)
	s := behavior.NewStore(client, testLogger(), behavior.Config{})
	ctx := context.Background()

	ts := at(10, 0, 0)
	want := behavior.Profile{
		Identity: "judy",
		History: []behavior.Observation{
			{Action: "GET /home", SourceAddress: "203.0.113.9", Timestamp: ts},
		},
		TypicalHours:    map[int]bool{10: true},
		TypicalAddrs:    map[string]bool{"203.0.113.9": true},
		ActionFrequency: map[string]int64{"GET /home": 1},
		UpdatedAt:       ts,
	}
	payload, err := json.Marshal(want)
	require.NoError(t, err)

	rmock.ExpectGet("behavior:judy").RedisNil()
	rmock.ExpectSet("behavior:judy", string(payload), 30*24*time.Hour).SetVal("OK")

	score := s.ScoreAnomaly(ctx, "judy", "GET /home", behavior.ActionContext{
		SourceAddress: "203.0.113.9",
		Timestamp:     ts,
	})
	assert.Zero(t, score)
	assert.NoError(t, rmock.ExpectationsWereMet())
}

func TestConcurrentScoringLosesNoWrites(t *testing.T) {
	s := localStore(behavior.Config{})
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s.ScoreAnomaly(ctx, "karl", "GET /feed", behavior.ActionContext{
				SourceAddress: "10.0.0.1",
				Timestamp:     at(10, 0, n),
			})
		}(i)
	}
	wg.Wait()

	profile, ok := s.Profile(ctx, "karl")
	require.True(t, ok)
	assert.Len(t, profile.History, workers)
}
