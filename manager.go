package main

import (
	"fmt"
	"log/slog"
	"sync"
)

const DefaultMaximumConcurrentGames = 5

// Manager is the process-wide game directory. It creates runners, routes
// commands onto their queues, and replaces runners whose workers have
// idled out. The cap on concurrent games is soft: exceeding it logs.
type Manager struct {
	mu                     sync.Mutex
	games                  map[string]*Runner
	maximumConcurrentGames int
	svc                    *Services
}

func NewManager(svc *Services, maximumConcurrentGames int) *Manager {
	if maximumConcurrentGames <= 0 {
		maximumConcurrentGames = DefaultMaximumConcurrentGames
	}
	return &Manager{
		games:                  make(map[string]*Runner),
		maximumConcurrentGames: maximumConcurrentGames,
		svc:                    svc,
	}
}

// CreateGame builds a runner for a game that has no live one. Duplicate
// creates are rejected.
func (m *Manager) CreateGame(gameID string, board *Board, startOnTurn int) (*Runner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createGameLocked(gameID, board, startOnTurn)
}

func (m *Manager) createGameLocked(gameID string, board *Board, startOnTurn int) (*Runner, error) {
	if _, exists := m.games[gameID]; exists {
		return nil, fmt.Errorf("game %s already created", gameID)
	}
	if len(m.games) >= m.maximumConcurrentGames {
		slog.Warn("maximum concurrent games exceeded", "game_id", gameID, "games", len(m.games))
	}

	runner, err := NewRunner(gameID, m.svc, board, startOnTurn)
	if err != nil {
		return nil, err
	}
	m.games[gameID] = runner

	ctx, cancel := opContext()
	defer cancel()
	if err := m.svc.Cache.ResetViewerCount(ctx, gameID); err != nil {
		slog.Info("failed to reset viewer count", "game_id", gameID, "err", err)
	}

	return runner, nil
}

// FindGame returns the runner for a game, or nil.
func (m *Manager) FindGame(gameID string) *Runner {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.games[gameID]
}

// FindOrCreateGame returns the game's runner, creating one when absent.
// The created flag tells the caller to start the worker.
func (m *Manager) FindOrCreateGame(gameID string) (*Runner, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if runner, exists := m.games[gameID]; exists {
		return runner, false, nil
	}
	runner, err := m.createGameLocked(gameID, nil, 0)
	if err != nil {
		return nil, false, err
	}
	return runner, true, nil
}

// GameIDs lists the live games.
func (m *Manager) GameIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.games))
	for id := range m.games {
		ids = append(ids, id)
	}
	return ids
}

// ensureRunner returns a live runner for the game, replacing one whose
// worker has exited. Fresh runners come back with their worker running.
func (m *Manager) ensureRunner(gameID string) (*Runner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	runner := m.games[gameID]
	if runner != nil && !runner.Stopped() {
		return runner, nil
	}

	if runner != nil {
		delete(m.games, gameID)
	}
	runner, err := m.createGameLocked(gameID, nil, 0)
	if err != nil {
		return nil, err
	}
	go runner.Run()
	return runner, nil
}

func (m *Manager) StartGame(gameID string) error {
	runner, err := m.ensureRunner(gameID)
	if err != nil {
		return err
	}
	runner.Enqueue(1, "start_game", runner.startGame)
	return nil
}

func (m *Manager) PauseGame(gameID string) error {
	runner, err := m.ensureRunner(gameID)
	if err != nil {
		return err
	}
	runner.Enqueue(1, "pause_game", runner.pauseGame)
	return nil
}

func (m *Manager) RestartGame(gameID string) error {
	runner, err := m.ensureRunner(gameID)
	if err != nil {
		return err
	}
	runner.Enqueue(1, "restart_game", runner.restartGame)
	return nil
}

// StepGame enqueues a single manual tick. A stopped runner is replaced
// with one that keeps the previous board and turn number, so manual
// stepping survives idle exits.
func (m *Manager) StepGame(gameID string) error {
	m.mu.Lock()
	runner := m.games[gameID]
	if runner == nil || runner.Stopped() {
		var previousBoard *Board
		var previousTurn int
		if runner != nil {
			previousBoard = runner.Board()
			previousTurn = runner.TurnNumber()
			delete(m.games, gameID)
		}

		fresh, err := m.createGameLocked(gameID, previousBoard, previousTurn)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		go fresh.Run()
		runner = fresh
	}
	m.mu.Unlock()

	runner.Enqueue(1, "step_game", func() { runner.stepGame(false) })
	return nil
}

// ToggleGameMode flips auto/manual; entering auto kicks off the
// self-rescheduling step chain.
func (m *Manager) ToggleGameMode(gameID string) error {
	runner, err := m.ensureRunner(gameID)
	if err != nil {
		return err
	}

	if runner.Mode() == ModeAuto {
		runner.SetMode(ModeManual)
		return nil
	}
	runner.SetMode(ModeAuto)
	runner.Enqueue(1, "step_game", func() { runner.stepGame(true) })
	return nil
}

// WatchGame subscribes a viewer through the runner's queue and ratchets
// the game's max viewer count once the subscription lands.
func (m *Manager) WatchGame(runner *Runner, sub Subscriber) {
	runner.Enqueue(0, "watch", func() {
		runner.watch(sub)

		ctx, cancel := opContext()
		defer cancel()
		if _, err := m.svc.Cache.UpdateMaxViewerCount(ctx, runner.GameID()); err != nil {
			slog.Info("failed to update max viewer count", "game_id", runner.GameID(), "err", err)
		}
	})
}

// DisconnectGame unsubscribes a viewer through the runner's queue.
func (m *Manager) DisconnectGame(runner *Runner, sub Subscriber) {
	runner.Enqueue(0, "disconnect", func() { runner.disconnect(sub) })
}
