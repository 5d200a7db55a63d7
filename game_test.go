package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes for the external collaborators ---

type fakeStore struct {
	mu            sync.Mutex
	game          GameRecord
	snakes        []*Snake
	child         *GameRecord
	statusCalls   []string
	places        []SnakePlace
	completeCalls int
	cloneCalls    int
}

func (f *fakeStore) GetGame(_ context.Context, gameID string) (*GameRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.game.ID != gameID {
		return nil, fmt.Errorf("game %s not found", gameID)
	}
	game := f.game
	return &game, nil
}

func (f *fakeStore) GetGameSnakes(context.Context, string) ([]*Snake, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snakes, nil
}

func (f *fakeStore) SetGameStatus(_ context.Context, status, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.game.Status = status
	f.statusCalls = append(f.statusCalls, status)
	return nil
}

func (f *fakeStore) CompleteGame(_ context.Context, _ string, places []SnakePlace) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.game.Status = StatusCompleted
	f.places = places
	f.completeCalls++
	return nil
}

func (f *fakeStore) GetChildGame(context.Context, string) (*GameRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.child, nil
}

func (f *fakeStore) CloneGame(context.Context, string) (*GameRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cloneCalls++
	clone := f.game
	clone.ID = f.game.ID + "-clone"
	clone.Status = StatusCreated
	return &clone, nil
}

type fakeCache struct {
	mu        sync.Mutex
	counts    map[string]int64
	maxCounts map[string]int64
	latencies map[string][]float64
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		counts:    map[string]int64{},
		maxCounts: map[string]int64{},
		latencies: map[string][]float64{},
	}
}

func (f *fakeCache) ResetViewerCount(_ context.Context, gameID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[gameID] = 0
	return nil
}

func (f *fakeCache) IncrViewerCount(_ context.Context, gameID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[gameID]++
	return f.counts[gameID], nil
}

func (f *fakeCache) DecrViewerCount(_ context.Context, gameID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts[gameID] <= 1 {
		f.counts[gameID] = 0
	} else {
		f.counts[gameID]--
	}
	return f.counts[gameID], nil
}

func (f *fakeCache) ViewerCount(_ context.Context, gameID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[gameID], nil
}

func (f *fakeCache) UpdateMaxViewerCount(_ context.Context, gameID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts[gameID] > f.maxCounts[gameID] {
		f.maxCounts[gameID] = f.counts[gameID]
	}
	return f.maxCounts[gameID], nil
}

func (f *fakeCache) RecordDaemonLatency(_ context.Context, daemonID string, seconds float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latencies[daemonID] = append(f.latencies[daemonID], seconds)
	return nil
}

type pushedEvent struct {
	Room  string
	Event string
	Data  interface{}
}

type fakePush struct {
	mu     sync.Mutex
	events []pushedEvent
	joins  []string
	leaves []string
}

func (f *fakePush) Emit(room, event string, data interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, pushedEvent{Room: room, Event: event, Data: data})
}

func (f *fakePush) Join(room string, _ Subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, room)
}

func (f *fakePush) Leave(room string, _ Subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, room)
}

func (f *fakePush) eventsOf(kind string) []pushedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []pushedEvent
	for _, e := range f.events {
		if e.Event == kind {
			matched = append(matched, e)
		}
	}
	return matched
}

type fakeSub struct {
	mu       sync.Mutex
	received []Event
}

func (f *fakeSub) Send(event string, data interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, Event{Event: event, Data: data})
}

// snakeServer is a canned remote snake endpoint.
type snakeServer struct {
	*httptest.Server
	mu   sync.Mutex
	move string
	hits map[string]int
}

func newSnakeServer(move string) *snakeServer {
	s := &snakeServer{move: move, hits: map[string]int{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		currentMove := s.move
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/start":
			json.NewEncoder(w).Encode(map[string]string{"taunt": "ready"})
		case "/move":
			json.NewEncoder(w).Encode(map[string]string{"move": currentMove, "taunt": "tick"})
		default:
			json.NewEncoder(w).Encode(map[string]string{})
		}
	}))
	return s
}

func (s *snakeServer) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func mustConfigJSON(t *testing.T, config BoardConfig) string {
	t.Helper()
	raw, err := json.Marshal(config)
	require.NoError(t, err)
	return string(raw)
}

func baseGameRecord(id string) GameRecord {
	return GameRecord{
		ID:                id,
		Status:            StatusCreated,
		BoardColumns:      10,
		BoardRows:         10,
		BoardFoodCount:    1,
		BoardFoodStrategy: SpawnStrategyRandom,
		TickRate:          1,
		ResponseTime:      250,
		GameType:          GameTypeScore,
	}
}

func newTestServices(fs *fakeStore) (*Services, *fakeCache, *fakePush) {
	fc := newFakeCache()
	fp := &fakePush{}
	return &Services{Store: fs, Cache: fc, Push: fp, Client: &http.Client{}}, fc, fp
}

func drainQueue(r *Runner) {
	for {
		act, ok := r.queue.tryPop()
		if !ok {
			return
		}
		act.fn()
	}
}

// --- tests ---

func TestActionQueueOrdering(t *testing.T) {
	q := newActionQueue()

	var processed []string
	record := func(name string) func() {
		return func() { processed = append(processed, name) }
	}
	q.push(2, "late", record("late"))
	q.push(1, "first-of-ones", record("first-of-ones"))
	q.push(1, "second-of-ones", record("second-of-ones"))
	q.push(0, "urgent", record("urgent"))

	for {
		act, ok := q.pop(time.Millisecond)
		if !ok {
			break
		}
		act.fn()
	}

	assert.Equal(t, []string{"urgent", "first-of-ones", "second-of-ones", "late"}, processed)
}

func TestMissingGameFailsRunnerCreation(t *testing.T) {
	svc, _, _ := newTestServices(&fakeStore{})
	_, err := NewRunner("nope", svc, nil, 0)
	require.Error(t, err)
}

func TestInitializeAndStep(t *testing.T) {
	server := newSnakeServer("up")
	defer server.Close()

	fs := &fakeStore{
		game: baseGameRecord("g1"),
		snakes: []*Snake{
			{ID: "s1", Name: "one", APIVersion: APIVersion2017, URL: server.URL, Health: StartingHealth, NextMove: Up},
		},
	}
	fs.game.BoardConfiguration = mustConfigJSON(t, BoardConfig{
		BoardColumns: 10,
		BoardRows:    10,
		Food:         []FoodItem{{X: 5, Y: 4}},
		Snakes: []ConfigSnake{
			{ID: "s1", Coords: []Point{{X: 5, Y: 5}, {X: 5, Y: 6}, {X: 5, Y: 7}}},
		},
	})

	svc, _, fp := newTestServices(fs)
	r, err := NewRunner("g1", svc, nil, 0)
	require.NoError(t, err)
	drainQueue(r)

	// Initialization called /start and pushed an opening snapshot.
	assert.Equal(t, 1, server.hitCount("/start"))
	require.NotEmpty(t, fp.eventsOf(EventUpdate))
	require.NotNil(t, r.Board())
	assert.Equal(t, 1, r.Board().GetFoodCount())

	r.stepGame(false)

	s := r.Board().Snakes["s1"]
	assert.Equal(t, 1, server.hitCount("/move"))
	assert.Equal(t, []Point{{X: 5, Y: 4}, {X: 5, Y: 5}, {X: 5, Y: 6}, {X: 5, Y: 7}}, stripColors(s.Body))
	assert.Equal(t, StartingHealth, s.Health)
	assert.Equal(t, 1, r.TurnNumber())
	// The eaten food was topped back up within the same tick.
	assert.Equal(t, 1, r.Board().GetFoodCount())
	assert.Equal(t, StatusInProgress, fs.game.Status)
	assert.Len(t, r.History(), 1)
}

func TestStepRecordsSnakeErrors(t *testing.T) {
	fs := &fakeStore{
		game: baseGameRecord("g1"),
		snakes: []*Snake{
			{ID: "s1", Name: "one", URL: "http://127.0.0.1:1", Health: StartingHealth, NextMove: Up},
		},
	}
	fs.game.ResponseTime = 50
	fs.game.BoardConfiguration = mustConfigJSON(t, BoardConfig{
		BoardColumns: 10,
		BoardRows:    10,
		Snakes:       []ConfigSnake{{ID: "s1", Coords: []Point{{X: 5, Y: 5}, {X: 5, Y: 6}}}},
	})

	svc, _, fp := newTestServices(fs)
	r, err := NewRunner("g1", svc, nil, 0)
	require.NoError(t, err)
	drainQueue(r)

	r.stepGame(false)

	s := r.Board().Snakes["s1"]
	assert.NotEmpty(t, s.Error)
	assert.Equal(t, Up, s.NextMove, "a failing snake keeps its previous move")

	updates := fp.eventsOf(EventUpdate)
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1].Data.(map[string]interface{})
	errors := last["errors"].(map[string]string)
	assert.Contains(t, errors, "s1")
}

func TestWinByTurnLimit(t *testing.T) {
	a := newSnakeServer("down")
	defer a.Close()
	b := newSnakeServer("down")
	defer b.Close()

	fs := &fakeStore{
		game: baseGameRecord("g1"),
		snakes: []*Snake{
			{ID: "s1", Name: "one", URL: a.URL, Health: StartingHealth, NextMove: Up},
			{ID: "s2", Name: "two", URL: b.URL, Health: StartingHealth, NextMove: Up},
		},
	}
	fs.game.TurnLimit = 3
	fs.game.BoardConfiguration = mustConfigJSON(t, BoardConfig{
		BoardColumns: 10,
		BoardRows:    10,
		Snakes: []ConfigSnake{
			{ID: "s1", Coords: []Point{{X: 2, Y: 1}, {X: 2, Y: 0}}},
			{ID: "s2", Coords: []Point{{X: 7, Y: 1}, {X: 7, Y: 0}}},
		},
	})

	svc, _, fp := newTestServices(fs)
	r, err := NewRunner("g1", svc, nil, 0)
	require.NoError(t, err)
	drainQueue(r)

	for i := 0; i < 3; i++ {
		r.stepGame(false)
	}

	assert.Equal(t, 1, fs.completeCalls)
	assert.Equal(t, StatusCompleted, fs.game.Status)
	assert.Len(t, fs.places, 2)
	assert.Equal(t, 1, fs.cloneCalls, "no child game, so completion clones")
	assert.Equal(t, 1, a.hitCount("/end"))
	assert.Equal(t, 1, b.hitCount("/end"))

	redirects := fp.eventsOf(EventRedirect)
	require.Len(t, redirects, 1)
	payload := redirects[0].Data.(map[string]interface{})
	assert.Equal(t, "g1-clone", payload["realId"])
	assert.NotEqual(t, "g1-clone", payload["id"], "viewer id is the opaque form")

	t.Run("initialize on a completed game is a no-op", func(t *testing.T) {
		boardBefore := r.Board()
		historyBefore := len(r.History())
		r.initializeGame(true)
		assert.Same(t, boardBefore, r.Board())
		assert.Equal(t, historyBefore, len(r.History()))
	})
}

func TestWinByGoldThreshold(t *testing.T) {
	server := newSnakeServer("right")
	defer server.Close()

	fs := &fakeStore{
		game: baseGameRecord("g1"),
		snakes: []*Snake{
			{ID: "s1", Name: "one", URL: server.URL, Health: StartingHealth, NextMove: Up},
		},
	}
	fs.game.BoardHasGold = true
	fs.game.BoardGoldCount = 2
	fs.game.BoardGoldStrategy = SpawnStrategyDontRespawn
	fs.game.BoardGoldWinningThreshold = 2
	fs.game.BoardGoldRespawnInterval = 3600
	fs.game.BoardConfiguration = mustConfigJSON(t, BoardConfig{
		BoardColumns: 10,
		BoardRows:    10,
		Gold:         []Point{{X: 3, Y: 5}, {X: 4, Y: 5}},
		Snakes:       []ConfigSnake{{ID: "s1", Coords: []Point{{X: 2, Y: 5}, {X: 1, Y: 5}, {X: 0, Y: 5}}}},
	})

	svc, _, _ := newTestServices(fs)
	r, err := NewRunner("g1", svc, nil, 0)
	require.NoError(t, err)
	drainQueue(r)

	r.stepGame(false)
	assert.Equal(t, 1, r.Board().Snakes["s1"].Gold)
	assert.Equal(t, StatusInProgress, fs.game.Status)

	r.stepGame(false)
	assert.Equal(t, 2, r.Board().Snakes["s1"].Gold)
	assert.Equal(t, StatusCompleted, fs.game.Status)
	assert.Equal(t, 1, fs.completeCalls)
}

func TestDaemonUpdateAppliesAndRecordsLatency(t *testing.T) {
	daemon := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"$spawn":  map[string]interface{}{"walls": []map[string]int{{"x": 0, "y": 0}}},
			"message": "more walls",
		})
	}))
	defer daemon.Close()

	server := newSnakeServer("down")
	defer server.Close()

	fs := &fakeStore{
		game: baseGameRecord("g1"),
		snakes: []*Snake{
			{ID: "s1", Name: "one", URL: server.URL, Health: StartingHealth, NextMove: Up},
		},
	}
	fs.game.DaemonID = "d1"
	fs.game.DaemonName = "wallmaker"
	fs.game.DaemonURL = daemon.URL
	fs.game.BoardConfiguration = mustConfigJSON(t, BoardConfig{
		BoardColumns: 10,
		BoardRows:    10,
		Snakes:       []ConfigSnake{{ID: "s1", Coords: []Point{{X: 5, Y: 5}, {X: 5, Y: 4}}}},
	})

	svc, fc, _ := newTestServices(fs)
	r, err := NewRunner("g1", svc, nil, 0)
	require.NoError(t, err)
	drainQueue(r)

	r.stepGame(false)

	assert.Equal(t, 1, r.Board().GetWallCount())
	kind, _ := r.Board().CellAt(0, 0, nil)
	assert.Equal(t, CellWall, kind)

	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.Len(t, fc.latencies["d1"], 1)

	r.mu.Lock()
	assert.Equal(t, "more walls", r.gameDaemon.Message)
	r.mu.Unlock()
}

func TestBountySnakeChecked(t *testing.T) {
	server := newSnakeServer("down")
	defer server.Close()

	fs := &fakeStore{
		game: baseGameRecord("g1"),
		snakes: []*Snake{
			{ID: "s1", Name: "one", URL: server.URL, IsBountySnake: true, Health: StartingHealth, NextMove: Up},
		},
	}
	fs.game.BoardConfiguration = mustConfigJSON(t, BoardConfig{
		BoardColumns: 10,
		BoardRows:    10,
		Snakes:       []ConfigSnake{{ID: "s1", Coords: []Point{{X: 5, Y: 5}, {X: 5, Y: 4}}}},
	})

	svc, _, _ := newTestServices(fs)
	r, err := NewRunner("g1", svc, nil, 0)
	require.NoError(t, err)
	drainQueue(r)

	r.stepGame(false)
	assert.Equal(t, 1, server.hitCount("/bounty/check"))
}

func TestWallAndGoldThrottling(t *testing.T) {
	server := newSnakeServer("down")
	defer server.Close()

	fs := &fakeStore{
		game: baseGameRecord("g1"),
		snakes: []*Snake{
			{ID: "s1", Name: "one", URL: server.URL, Health: StartingHealth, NextMove: Up},
		},
	}
	fs.game.BoardHasWalls = true
	fs.game.BoardHasGold = true
	fs.game.BoardGoldCount = 3
	fs.game.BoardGoldWinningThreshold = 100
	fs.game.BoardGoldRespawnInterval = 60
	fs.game.TurnLimit = 1000
	fs.game.BoardConfiguration = mustConfigJSON(t, BoardConfig{
		BoardColumns: 10,
		BoardRows:    10,
		Snakes:       []ConfigSnake{{ID: "s1", Coords: []Point{{X: 5, Y: 5}, {X: 5, Y: 4}}}},
	})

	current := time.Now()
	var clockMu sync.Mutex
	restore := timeNow
	timeNow = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return current
	}
	defer func() { timeNow = restore }()
	advance := func(d time.Duration) {
		clockMu.Lock()
		current = current.Add(d)
		clockMu.Unlock()
	}

	svc, _, _ := newTestServices(fs)
	r, err := NewRunner("g1", svc, nil, 0)
	require.NoError(t, err)
	drainQueue(r)

	// First tick: both clocks are unset, so one wall and one gold spawn.
	r.stepGame(false)
	assert.Equal(t, 1, r.Board().GetWallCount())
	assert.Equal(t, 1, r.Board().GetGoldCount())

	// Within the interval nothing more spawns.
	r.stepGame(false)
	assert.Equal(t, 1, r.Board().GetWallCount())
	assert.Equal(t, 1, r.Board().GetGoldCount())

	// Past the wall cadence but not the gold interval.
	advance(11 * time.Second)
	r.stepGame(false)
	assert.Equal(t, 2, r.Board().GetWallCount())
	assert.Equal(t, 1, r.Board().GetGoldCount())

	// Past the gold interval too.
	advance(60 * time.Second)
	r.stepGame(false)
	assert.Equal(t, 2, r.Board().GetGoldCount())

	assert.LessOrEqual(t, r.Board().WallDensity(), WallDensityCap)
}

func TestRankSnakes(t *testing.T) {
	a := &Snake{ID: "a", Score: 3, Death: &Death{Turn: 5, Reason: DeathReasonWall}}
	b := &Snake{ID: "b", Score: 1}
	c := &Snake{ID: "c", Score: 2, Death: &Death{Turn: 9, Reason: DeathReasonKilled}}

	t.Run("score games rank by ascending score", func(t *testing.T) {
		ranked := rankSnakes([]*Snake{a, b, c}, GameTypeScore)
		assert.Equal(t, []string{"b", "c", "a"}, []string{ranked[0].ID, ranked[1].ID, ranked[2].ID})
	})

	t.Run("placement games rank survivors first, then later deaths", func(t *testing.T) {
		ranked := rankSnakes([]*Snake{a, b, c}, GameTypePlacement)
		assert.Equal(t, []string{"b", "c", "a"}, []string{ranked[0].ID, ranked[1].ID, ranked[2].ID})
	})
}

func TestWatchAndDisconnect(t *testing.T) {
	server := newSnakeServer("down")
	defer server.Close()

	fs := &fakeStore{
		game: baseGameRecord("g1"),
		snakes: []*Snake{
			{ID: "s1", Name: "one", URL: server.URL, Health: StartingHealth, NextMove: Up},
		},
	}
	fs.game.BoardConfiguration = mustConfigJSON(t, BoardConfig{
		BoardColumns: 10,
		BoardRows:    10,
		Snakes:       []ConfigSnake{{ID: "s1", Coords: []Point{{X: 5, Y: 5}, {X: 5, Y: 4}}}},
	})

	svc, fc, fp := newTestServices(fs)
	r, err := NewRunner("g1", svc, nil, 0)
	require.NoError(t, err)
	drainQueue(r)

	sub := &fakeSub{}
	r.watch(sub)

	assert.Equal(t, []string{"g1"}, fp.joins)
	count, _ := fc.ViewerCount(context.Background(), "g1")
	assert.Equal(t, int64(1), count)

	sub.mu.Lock()
	require.NotEmpty(t, sub.received)
	assert.Equal(t, EventUpdate, sub.received[0].Event)
	sub.mu.Unlock()

	r.disconnect(sub)
	assert.Equal(t, []string{"g1"}, fp.leaves)
	count, _ = fc.ViewerCount(context.Background(), "g1")
	assert.Equal(t, int64(0), count)

	// The floor stays at zero even on a double disconnect.
	r.disconnect(sub)
	count, _ = fc.ViewerCount(context.Background(), "g1")
	assert.Equal(t, int64(0), count)
}

func TestWatchCompletedGameRedirects(t *testing.T) {
	fs := &fakeStore{game: baseGameRecord("g1")}
	fs.game.Status = StatusCompleted
	fs.child = &GameRecord{ID: "g2", Status: StatusCreated}

	svc, fc, fp := newTestServices(fs)
	r, err := NewRunner("g1", svc, nil, 0)
	require.NoError(t, err)

	sub := &fakeSub{}
	r.watch(sub)

	redirects := fp.eventsOf(EventRedirect)
	require.Len(t, redirects, 1)
	assert.Equal(t, "g2", redirects[0].Data.(map[string]interface{})["realId"])
	assert.Equal(t, 0, fs.cloneCalls, "an existing child is reused")

	count, _ := fc.ViewerCount(context.Background(), "g1")
	assert.Equal(t, int64(0), count, "no viewer bump on redirect")
}

func TestPauseAndRestart(t *testing.T) {
	server := newSnakeServer("down")
	defer server.Close()

	fs := &fakeStore{
		game: baseGameRecord("g1"),
		snakes: []*Snake{
			{ID: "s1", Name: "one", URL: server.URL, Health: StartingHealth, NextMove: Up},
		},
	}
	fs.game.BoardConfiguration = mustConfigJSON(t, BoardConfig{
		BoardColumns: 10,
		BoardRows:    10,
		Snakes:       []ConfigSnake{{ID: "s1", Coords: []Point{{X: 5, Y: 5}, {X: 5, Y: 4}}}},
	})

	svc, _, _ := newTestServices(fs)
	r, err := NewRunner("g1", svc, nil, 0)
	require.NoError(t, err)
	drainQueue(r)

	r.stepGame(false)
	require.Equal(t, 1, r.TurnNumber())

	r.pauseGame()
	assert.Equal(t, StatusStopped, fs.game.Status)

	r.restartGame()
	assert.Equal(t, 0, r.TurnNumber())
	assert.Contains(t, fs.statusCalls, StatusRestarted)
	assert.Empty(t, r.History())
	assert.Equal(t, 2, server.hitCount("/start"), "restart re-runs initialization")
}

func TestIdleRunnerExits(t *testing.T) {
	fs := &fakeStore{game: baseGameRecord("g1")}
	svc, _, _ := newTestServices(fs)

	current := time.Now()
	var clockMu sync.Mutex
	restore := timeNow
	timeNow = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return current
	}
	defer func() { timeNow = restore }()

	r, err := NewRunner("g1", svc, nil, 0)
	require.NoError(t, err)
	drainQueue(r)

	go r.Run()

	time.Sleep(100 * time.Millisecond)
	clockMu.Lock()
	current = current.Add(idleExitAfter + time.Second)
	clockMu.Unlock()

	require.Eventually(t, r.Stopped, 2*time.Second, 10*time.Millisecond)
}

func TestStartAndPlayGame(t *testing.T) {
	server := newSnakeServer("down")
	defer server.Close()

	fs := &fakeStore{
		game: baseGameRecord("g1"),
		snakes: []*Snake{
			{ID: "s1", Name: "one", URL: server.URL, Health: StartingHealth, NextMove: Up},
		},
	}
	fs.game.BoardConfiguration = mustConfigJSON(t, BoardConfig{
		BoardColumns: 10,
		BoardRows:    10,
		Snakes:       []ConfigSnake{{ID: "s1", Coords: []Point{{X: 5, Y: 5}, {X: 5, Y: 4}}}},
	})

	svc, _, _ := newTestServices(fs)
	r, err := NewRunner("g1", svc, nil, 0)
	require.NoError(t, err)
	drainQueue(r)

	r.startGame()
	assert.Equal(t, StatusInProgress, fs.game.Status)
	assert.Equal(t, 1, r.TurnNumber())
	// Opening snapshot plus the first tick's snapshot.
	assert.Len(t, r.History(), 2)

	require.Equal(t, ModeManual, r.Mode())
	r.playGame()
	assert.Equal(t, ModeAuto, r.Mode(), "play on a running game only flips the mode")
	assert.Equal(t, 1, r.TurnNumber())
}

func TestStaticFoodStrategyRevealsOnTopUp(t *testing.T) {
	server := newSnakeServer("up")
	defer server.Close()

	fs := &fakeStore{
		game: baseGameRecord("g1"),
		snakes: []*Snake{
			{ID: "s1", Name: "one", URL: server.URL, Health: StartingHealth, NextMove: Up},
		},
	}
	fs.game.BoardFoodCount = 1
	fs.game.BoardFoodStrategy = SpawnStrategyStatic
	fs.game.BoardConfiguration = mustConfigJSON(t, BoardConfig{
		BoardColumns: 10,
		BoardRows:    10,
		Food:         []FoodItem{{X: 5, Y: 4}, {X: 0, Y: 0, Hidden: true}},
		Snakes:       []ConfigSnake{{ID: "s1", Coords: []Point{{X: 5, Y: 5}, {X: 5, Y: 6}}}},
	})

	svc, _, _ := newTestServices(fs)
	r, err := NewRunner("g1", svc, nil, 0)
	require.NoError(t, err)
	drainQueue(r)
	require.Equal(t, 1, r.Board().GetFoodCount(), "hidden seed stays hidden at initialization")

	// The snake eats the visible food; the top-up reveals the hidden seed
	// instead of spawning a fresh one.
	r.Board().Snakes["s1"].NextMove = Up
	r.stepGame(false)

	assert.Equal(t, 1, r.Board().GetFoodCount())
	kind, _ := r.Board().CellAt(0, 0, nil)
	assert.Equal(t, CellFood, kind)
}
