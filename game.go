package main

import (
	"bytes"
	"container/heap"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// How long the worker blocks on the queue before rechecking idleness.
	actionPopWait = 50 * time.Millisecond
	// A runner with no commands for this long shuts itself down.
	idleExitAfter = 5 * time.Second
	// Minimum spacing between wall spawns.
	WallSpawnRate = 10 * time.Second

	opTimeout = 5 * time.Second
)

// Services bundles the external collaborators, threaded from main through
// the manager into every runner. No globals.
type Services struct {
	Store  Store
	Cache  Cache
	Push   Pusher
	Client *http.Client
}

// action is one queued command. Lower priority runs first; seq keeps equal
// priorities FIFO.
type action struct {
	priority int
	seq      int
	name     string
	fn       func()
}

type actionHeap []action

func (h actionHeap) Len() int { return len(h) }
func (h actionHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h actionHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *actionHeap) Push(x interface{}) { *h = append(*h, x.(action)) }
func (h *actionHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type actionQueue struct {
	mu     sync.Mutex
	heap   actionHeap
	seq    int
	signal chan struct{}
}

func newActionQueue() *actionQueue {
	return &actionQueue{signal: make(chan struct{}, 1)}
}

func (q *actionQueue) push(priority int, name string, fn func()) {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.heap, action{priority: priority, seq: q.seq, name: name, fn: fn})
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *actionQueue) tryPop() (action, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return action{}, false
	}
	return heap.Pop(&q.heap).(action), true
}

// pop blocks up to wait for the next command.
func (q *actionQueue) pop(wait time.Duration) (action, bool) {
	if act, ok := q.tryPop(); ok {
		return act, true
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-q.signal:
		return q.tryPop()
	case <-timer.C:
		return action{}, false
	}
}

// Runner drives one game: it sequences ticks, fans calls out to the snake
// servers, applies the results to its board, and pushes snapshots. All
// state below mu is mutated only while holding it, and in practice only by
// the worker goroutine consuming the action queue.
type Runner struct {
	gameID string
	svc    *Services
	queue  *actionQueue

	mu          sync.Mutex
	game        *GameRecord
	gameDaemon  *DaemonRecord
	board       *Board
	turnNumber  int
	mode        string
	history     []map[string]interface{}
	initialized bool

	stopped atomic.Bool
	rng     *rand.Rand
}

// NewRunner syncs the game record (a missing row fails creation) and
// queues initialization. A preserved board suppresses the board override
// so a stepped game resumes where it left off.
func NewRunner(gameID string, svc *Services, board *Board, startOnTurn int) (*Runner, error) {
	r := &Runner{
		gameID:     gameID,
		svc:        svc,
		queue:      newActionQueue(),
		board:      board,
		turnNumber: startOnTurn,
		mode:       ModeManual,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	r.mu.Lock()
	err := r.syncGameLocked()
	r.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}

	overrideBoard := board == nil
	r.Enqueue(1, "initialize_game", func() { r.initializeGame(overrideBoard) })
	return r, nil
}

func (r *Runner) GameID() string { return r.gameID }

func (r *Runner) Stopped() bool { return r.stopped.Load() }

func (r *Runner) Mode() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

func (r *Runner) SetMode(mode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = mode
}

// Board hands the current board to the manager for step-preservation.
func (r *Runner) Board() *Board {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.board
}

func (r *Runner) TurnNumber() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.turnNumber
}

// Enqueue schedules a command on the worker. Lower priority runs first.
func (r *Runner) Enqueue(priority int, name string, fn func()) {
	r.queue.push(priority, name, fn)
}

// Run is the worker loop. It executes commands in priority order and exits
// after five seconds without one; the manager recreates the runner on the
// next command.
func (r *Runner) Run() {
	slog.Info("runner starting", "game_id", r.gameID)

	lastCommand := timeNow()
	for !r.stopped.Load() {
		if act, ok := r.queue.pop(actionPopWait); ok {
			slog.Info("processing action", "game_id", r.gameID, "action", act.name, "priority", act.priority)
			act.fn()
			lastCommand = timeNow()
		}

		if timeNow().Sub(lastCommand) > idleExitAfter {
			r.stopped.Store(true)
		}
	}

	slog.Info("runner exiting", "game_id", r.gameID)
}

func opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opTimeout)
}

// syncGameLocked refreshes the cached game record and daemon descriptor.
func (r *Runner) syncGameLocked() error {
	slog.Info("fetching game from db", "game_id", r.gameID)

	ctx, cancel := opContext()
	defer cancel()

	game, err := r.svc.Store.GetGame(ctx, r.gameID)
	if err != nil {
		return err
	}
	r.game = game
	r.gameDaemon = game.Daemon()
	return nil
}

// initializeGame loads snakes, builds the board, seeds items, and calls
// every snake's /start. A COMPLETED game is left alone.
func (r *Runner) initializeGame(overrideBoard bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.syncGameLocked(); err != nil {
		slog.Error("initialize failed", "game_id", r.gameID, "err", err)
		return
	}
	if r.game.Status == StatusCompleted {
		return
	}

	if overrideBoard {
		config := r.parseBoardConfiguration()

		ctx, cancel := opContext()
		snakeList, err := r.svc.Store.GetGameSnakes(ctx, r.gameID)
		cancel()
		if err != nil {
			slog.Error("failed to load snakes", "game_id", r.gameID, "err", err)
			return
		}

		snakes := make(map[string]*Snake, len(snakeList))
		order := make([]string, 0, len(snakeList))
		for _, snake := range snakeList {
			snakes[snake.ID] = snake
			order = append(order, snake.ID)
		}

		if config == nil {
			r.board = NewBoard(snakes, order, r.game.BoardColumns, r.game.BoardRows, nil, r.rng)
			r.board.Clear()
			r.board.SpawnRandomFood(r.game.BoardFoodCount)
			if r.game.BoardHasGold {
				r.board.SpawnRandomGold(r.game.BoardGoldCount)
			}
			if r.game.BoardHasTeleporters {
				r.board.SpawnRandomTeleporters(r.game.BoardTeleporterCount)
			}
		} else {
			r.board = NewBoard(snakes, order, 0, 0, config, r.rng)
			if missing := r.game.BoardFoodCount - r.board.GetFoodCount(); missing > 0 {
				r.board.SpawnRandomFood(missing)
			}
			if r.game.BoardHasGold {
				if missing := r.game.BoardGoldCount - r.board.GetGoldCount(); missing > 0 {
					r.board.SpawnRandomGold(missing)
				}
			}
			if r.game.BoardHasTeleporters {
				if missing := r.game.BoardTeleporterCount - r.board.GetTeleporterCount()/2; missing > 0 {
					r.board.SpawnRandomTeleporters(missing)
				}
			}
		}
	}

	r.history = nil

	if r.board == nil || r.board.GetSnakeCount() == 0 {
		slog.Error("no snakes in game", "game_id", r.gameID)
		return
	}

	names := make([]string, 0, r.board.GetSnakeCount())
	for _, snake := range r.board.SnakesInOrder() {
		names = append(names, snake.Name)
	}
	slog.Info("game initialized", "game_id", r.gameID, "snakes", names)
	slog.Debug("board layout", "game_id", r.gameID, "board", visualizeBoard(r.board))

	for _, snake := range r.board.SnakesInOrder() {
		r.initializeSnake(snake)
	}

	r.updateClientsLocked(nil)
	r.initialized = true
}

// parseBoardConfiguration decodes the game's board configuration JSON.
// Invalid JSON is logged and treated as absent.
func (r *Runner) parseBoardConfiguration() *BoardConfig {
	if r.game.BoardConfiguration == "" {
		return nil
	}
	var config BoardConfig
	if err := json.Unmarshal([]byte(r.game.BoardConfiguration), &config); err != nil {
		slog.Error("invalid board configuration", "game_id", r.gameID, "configuration", r.game.BoardConfiguration, "err", err)
		return nil
	}
	return &config
}

// initializeSnake POSTs /start with a doubled deadline and applies the
// response. Failures are logged only.
func (r *Runner) initializeSnake(snake *Snake) {
	url := snake.URLFor(r.game.DevMode)
	body, err := r.postJSON(url+"/start", 2*r.game.ResponseTime, startRequest(r.game, snake.APIVersion))
	if err != nil {
		slog.Info("start request failed", "game_id", r.gameID, "snake_id", snake.ID, "err", err)
		return
	}

	var resp StartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		slog.Info("invalid start response", "game_id", r.gameID, "snake_id", snake.ID, "err", err)
		return
	}
	snake.HandleStartResponse(resp)
}

// startGame records the opening snapshot and runs one tick.
func (r *Runner) startGame() {
	r.mu.Lock()
	if r.board == nil {
		r.mu.Unlock()
		slog.Error("cannot start before initialization", "game_id", r.gameID)
		return
	}
	r.history = append(r.history, boardJSON(r.board, APIVersionClient))
	r.mu.Unlock()

	r.stepGame(false)
}

// playGame flips an in-progress game to auto mode; otherwise it marks the
// game in progress and ticks once.
func (r *Runner) playGame() {
	r.mu.Lock()
	if r.game.Status == StatusInProgress {
		r.mode = ModeAuto
		r.mu.Unlock()
		return
	}

	ctx, cancel := opContext()
	if err := r.svc.Store.SetGameStatus(ctx, StatusInProgress, r.gameID); err != nil {
		slog.Error("failed to set status", "game_id", r.gameID, "err", err)
	}
	cancel()
	if err := r.syncGameLocked(); err != nil {
		slog.Error("sync failed", "game_id", r.gameID, "err", err)
	}
	r.mu.Unlock()

	r.stepGame(false)
}

type moveCall struct {
	snake   *Snake
	url     string
	payload map[string]interface{}
}

// stepGame runs one tick: daemon, bounty checks, move fan-out, board
// update, item top-ups, push, history, win check. In auto mode it sleeps
// the tick rate and re-enqueues itself.
func (r *Runner) stepGame(allowStepping bool) {
	r.mu.Lock()

	if r.board == nil {
		r.mu.Unlock()
		slog.Error("cannot step before initialization", "game_id", r.gameID)
		return
	}

	if r.game.Status != StatusInProgress {
		ctx, cancel := opContext()
		if err := r.svc.Store.SetGameStatus(ctx, StatusInProgress, r.gameID); err != nil {
			slog.Error("failed to set status", "game_id", r.gameID, "err", err)
		}
		cancel()
		if err := r.syncGameLocked(); err != nil {
			slog.Error("sync failed", "game_id", r.gameID, "err", err)
		}
	}

	if r.gameDaemon != nil {
		r.applyDaemonTickLocked()
	}

	for _, snake := range r.board.SnakesInOrder() {
		if snake.IsBountySnake {
			r.checkBountyConditions(snake)
		}
	}

	// Build every payload before the fan-out so nothing reads the board
	// while another goroutine writes its snake.
	calls := make([]moveCall, 0, r.board.GetSnakeCount())
	for _, snake := range r.board.SnakesInOrder() {
		calls = append(calls, moveCall{
			snake:   snake,
			url:     snake.URLFor(r.game.DevMode),
			payload: moveRequest(r.board, r.game, r.turnNumber, snake),
		})
	}

	errors := map[string]string{}
	var errorsMu sync.Mutex
	var g errgroup.Group
	for _, call := range calls {
		call := call
		g.Go(func() error {
			if err := r.fetchNextMove(call); err != nil {
				errorsMu.Lock()
				errors[call.snake.ID] = err.Error()
				errorsMu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	r.board.Update(r.turnNumber+1, r.game.PinTail)

	if r.board.GetFoodCount() < r.game.BoardFoodCount {
		r.spawnFoodByStrategy()
	}

	if r.game.BoardHasGold && r.board.GetGoldCount() < r.game.BoardGoldCount {
		interval := time.Duration(r.game.BoardGoldRespawnInterval) * time.Second
		if r.board.LastGoldSpawn.IsZero() || timeNow().Sub(r.board.LastGoldSpawn) >= interval {
			r.spawnGoldByStrategy()
		}
	}

	if r.game.BoardHasWalls && r.board.WallDensity() < WallDensityCap {
		if r.board.LastWallSpawn.IsZero() || timeNow().Sub(r.board.LastWallSpawn) >= WallSpawnRate {
			r.board.SpawnRandomWalls(1)
		}
	}

	r.turnNumber++
	r.updateClientsLocked(errors)
	r.history = append(r.history, boardJSON(r.board, APIVersionClient))

	win := r.winConditionsMetLocked()
	status := r.game.Status
	tickRate := r.game.TickRate
	r.mu.Unlock()

	if win {
		r.finishGame()
		return
	}

	if allowStepping && r.Mode() == ModeAuto && status == StatusInProgress {
		time.Sleep(time.Duration(tickRate) * time.Millisecond)
		r.Enqueue(1, "step_game", func() { r.stepGame(true) })
	}
}

// fetchNextMove POSTs /move and applies the answer. A failing snake keeps
// its previous move and carries the error.
func (r *Runner) fetchNextMove(call moveCall) error {
	body, err := r.postJSON(call.url+"/move", r.game.ResponseTime, call.payload)
	if err != nil {
		slog.Info("move request failed", "game_id", r.gameID, "snake_id", call.snake.ID, "err", err)
		call.snake.Error = err.Error()
		return err
	}

	var resp MoveResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		slog.Info("invalid move response", "game_id", r.gameID, "snake_id", call.snake.ID, "err", err)
		call.snake.Error = err.Error()
		return err
	}

	return call.snake.HandleMoveResponse(resp)
}

func (r *Runner) spawnFoodByStrategy() {
	switch r.game.BoardFoodStrategy {
	case SpawnStrategyStatic:
		r.board.RevealFood()
	case SpawnStrategyDontRespawn:
	default:
		r.board.SpawnRandomFood(1)
	}
}

func (r *Runner) spawnGoldByStrategy() {
	switch r.game.BoardGoldStrategy {
	case SpawnStrategyDontRespawn:
	default:
		r.board.SpawnRandomGold(1)
	}
}

// applyDaemonTickLocked POSTs the full game snapshot to the daemon and, on
// HTTP 200, records the latency and applies the update. Anything else is
// logged and the tick continues.
func (r *Runner) applyDaemonTickLocked() {
	slog.Info("posting to daemon", "game_id", r.gameID, "daemon_url", r.gameDaemon.URL)

	started := timeNow()
	body, err := r.postJSON(r.gameDaemon.URL, r.game.ResponseTime, r.gameJSONLocked(nil))
	elapsed := timeNow().Sub(started).Seconds()
	if err != nil {
		slog.Info("daemon error", "game_id", r.gameID, "daemon", r.gameDaemon.Name, "err", err)
		return
	}

	var update DaemonUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		slog.Info("invalid daemon update", "game_id", r.gameID, "daemon", r.gameDaemon.Name, "err", err)
		return
	}

	ctx, cancel := opContext()
	if err := r.svc.Cache.RecordDaemonLatency(ctx, r.gameDaemon.ID, elapsed); err != nil {
		slog.Info("failed to record daemon latency", "game_id", r.gameID, "err", err)
	}
	cancel()

	r.applyDaemonUpdateLocked(&update)
}

func (r *Runner) applyDaemonUpdateLocked(update *DaemonUpdate) {
	if update == nil {
		return
	}
	slog.Info("daemon updated", "game_id", r.gameID, "daemon", r.gameDaemon.Name)

	if update.Spawn != nil {
		for _, wall := range update.Spawn.Walls {
			r.board.SpawnWall(wall.X, wall.Y)
		}
	}

	// $destroy is reserved.

	if update.Message != "" {
		r.gameDaemon.Message = update.Message
	}
}

// checkBountyConditions POSTs /bounty/check; failures are logged only.
func (r *Runner) checkBountyConditions(snake *Snake) {
	url := snake.URLFor(r.game.DevMode)
	payload := boardJSON(r.board, snake.APIVersion)
	if _, err := r.postJSON(url+"/bounty/check", r.game.ResponseTime, payload); err != nil {
		slog.Info("bounty error", "game_id", r.gameID, "snake_id", snake.ID, "err", err)
	}
}

// winConditionsMetLocked: turn limit hit, nobody alive, or somebody
// reached the gold threshold.
func (r *Runner) winConditionsMetLocked() bool {
	if r.game.TurnLimit != 0 && r.turnNumber >= r.game.TurnLimit {
		return true
	}

	alive := false
	for _, snake := range r.board.SnakesInOrder() {
		if snake.Alive() {
			alive = true
		}
		if r.game.BoardGoldWinningThreshold > 0 && snake.Gold >= r.game.BoardGoldWinningThreshold {
			return true
		}
	}
	return !alive
}

// rankSnakes orders snakes for final placement: ascending score for SCORE
// games; for PLACEMENT games, survivors first, then later deaths before
// earlier ones.
func rankSnakes(snakes []*Snake, gameType string) []*Snake {
	ranked := make([]*Snake, len(snakes))
	copy(ranked, snakes)

	if gameType == GameTypePlacement {
		deathTurn := func(s *Snake) int {
			if s.Death == nil {
				return math.MaxInt
			}
			return s.Death.Turn
		}
		sort.SliceStable(ranked, func(i, j int) bool {
			return deathTurn(ranked[i]) > deathTurn(ranked[j])
		})
		return ranked
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score < ranked[j].Score
	})
	return ranked
}

// finishGame completes the game: persists status and places in one
// transaction, tells every snake /end, and redirects viewers onward.
func (r *Runner) finishGame() {
	r.mu.Lock()
	snakes := r.board.SnakesInOrder()
	ranked := rankSnakes(snakes, r.game.GameType)

	places := make([]SnakePlace, 0, len(ranked))
	for i, snake := range ranked {
		places = append(places, SnakePlace{SnakeID: snake.ID, Place: i + 1})
	}

	ctx, cancel := opContext()
	if err := r.svc.Store.CompleteGame(ctx, r.gameID, places); err != nil {
		slog.Error("failed to complete game", "game_id", r.gameID, "err", err)
	}
	cancel()
	if err := r.syncGameLocked(); err != nil {
		slog.Error("sync failed", "game_id", r.gameID, "err", err)
	}

	winnerID := ranked[0].ID
	devMode := r.game.DevMode
	responseTime := r.game.ResponseTime
	r.mu.Unlock()

	for _, snake := range snakes {
		payload := map[string]interface{}{"winner_id": winnerID, "you": snake.ID}
		if _, err := r.postJSON(snake.URLFor(devMode)+"/end", responseTime, payload); err != nil {
			slog.Info("end request failed", "game_id", r.gameID, "snake_id", snake.ID, "err", err)
		}
	}

	r.redirectToChild()
}

// redirectToChild points viewers at the game's child, cloning one if
// needed.
func (r *Runner) redirectToChild() {
	slog.Info("game complete, redirecting to child", "game_id", r.gameID)

	ctx, cancel := opContext()
	defer cancel()

	child, err := r.svc.Store.GetChildGame(ctx, r.gameID)
	if err != nil {
		slog.Error("failed to look up child game", "game_id", r.gameID, "err", err)
		return
	}
	if child == nil {
		child, err = r.svc.Store.CloneGame(ctx, r.gameID)
		if err != nil {
			slog.Error("failed to clone game", "game_id", r.gameID, "err", err)
			return
		}
	}

	r.svc.Push.Emit(r.gameID, EventRedirect, redirectPayload(child))
}

// redirectPayload renders a game row for the redirect event. The id is the
// viewer-facing opaque form; realId keeps the raw row id.
func redirectPayload(game *GameRecord) map[string]interface{} {
	return map[string]interface{}{
		"id":                        base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("Game:%s", game.ID))),
		"realId":                    game.ID,
		"status":                    game.Status,
		"boardColumns":              game.BoardColumns,
		"boardRows":                 game.BoardRows,
		"boardFoodCount":            game.BoardFoodCount,
		"boardFoodStrategy":         game.BoardFoodStrategy,
		"boardHasGold":              game.BoardHasGold,
		"boardGoldCount":            game.BoardGoldCount,
		"boardGoldStrategy":         game.BoardGoldStrategy,
		"boardGoldWinningThreshold": game.BoardGoldWinningThreshold,
		"boardGoldRespawnInterval":  game.BoardGoldRespawnInterval,
		"boardHasWalls":             game.BoardHasWalls,
		"boardHasTeleporters":       game.BoardHasTeleporters,
		"boardTeleporterCount":      game.BoardTeleporterCount,
		"tickRate":                  game.TickRate,
		"responseTime":              game.ResponseTime,
		"turnLimit":                 game.TurnLimit,
		"gameType":                  game.GameType,
		"visibility":                game.Visibility,
	}
}

// pauseGame stops stepping by status.
func (r *Runner) pauseGame() {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := opContext()
	defer cancel()
	if err := r.svc.Store.SetGameStatus(ctx, StatusStopped, r.gameID); err != nil {
		slog.Error("failed to set status", "game_id", r.gameID, "err", err)
	}
	if err := r.syncGameLocked(); err != nil {
		slog.Error("sync failed", "game_id", r.gameID, "err", err)
	}
}

// restartGame rewinds to turn zero and re-initializes.
func (r *Runner) restartGame() {
	slog.Info("restarting game", "game_id", r.gameID)

	r.mu.Lock()
	ctx, cancel := opContext()
	if err := r.svc.Store.SetGameStatus(ctx, StatusRestarted, r.gameID); err != nil {
		slog.Error("failed to set status", "game_id", r.gameID, "err", err)
	}
	cancel()
	r.turnNumber = 0
	if err := r.syncGameLocked(); err != nil {
		slog.Error("sync failed", "game_id", r.gameID, "err", err)
	}
	r.mu.Unlock()

	r.initializeGame(true)
}

// watch subscribes a viewer: join the room, bump the count, send the
// current snapshot to that viewer only. Completed games redirect instead.
func (r *Runner) watch(sub Subscriber) {
	r.svc.Push.Join(r.gameID, sub)

	r.mu.Lock()
	completed := r.game != nil && r.game.Status == StatusCompleted
	r.mu.Unlock()
	if completed {
		r.redirectToChild()
		return
	}

	ctx, cancel := opContext()
	count, err := r.svc.Cache.IncrViewerCount(ctx, r.gameID)
	cancel()
	if err != nil {
		slog.Info("failed to bump viewer count", "game_id", r.gameID, "err", err)
	}
	r.svc.Push.Emit(r.gameID, EventViewerCount, count)

	r.mu.Lock()
	snapshot := r.gameJSONLocked(nil)
	r.mu.Unlock()
	sub.Send(EventUpdate, snapshot)
}

// disconnect reverses watch.
func (r *Runner) disconnect(sub Subscriber) {
	r.svc.Push.Leave(r.gameID, sub)

	ctx, cancel := opContext()
	count, err := r.svc.Cache.DecrViewerCount(ctx, r.gameID)
	cancel()
	if err != nil {
		slog.Info("failed to drop viewer count", "game_id", r.gameID, "err", err)
	}
	r.svc.Push.Emit(r.gameID, EventViewerCount, count)

	r.mu.Lock()
	r.updateClientsLocked(nil)
	r.mu.Unlock()
}

func (r *Runner) updateClientsLocked(errors map[string]string) {
	r.svc.Push.Emit(r.gameID, EventUpdate, r.gameJSONLocked(errors))
}

// Snapshot renders the full client-dialect game state.
func (r *Runner) Snapshot() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gameJSONLocked(nil)
}

// History returns the per-turn snapshots accumulated since initialization.
func (r *Runner) History() []map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	history := make([]map[string]interface{}, len(r.history))
	copy(history, r.history)
	return history
}

func (r *Runner) gameJSONLocked(errors map[string]string) map[string]interface{} {
	if r.board == nil {
		return map[string]interface{}{}
	}

	ctx, cancel := opContext()
	viewers, err := r.svc.Cache.ViewerCount(ctx, r.gameID)
	cancel()
	if err != nil {
		viewers = 0
	}

	return map[string]interface{}{
		"id":         r.game.ID,
		"board":      boardJSON(r.board, APIVersionClient),
		"daemon":     r.gameDaemon,
		"errors":     errors,
		"turnNumber": r.turnNumber,
		"viewers":    viewers,
	}
}

// postJSON POSTs a JSON payload with a millisecond deadline and returns
// the body of a 200 response; anything else is an error.
func (r *Runner) postJSON(url string, timeoutMS int, payload interface{}) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()

	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.svc.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return body, nil
}
