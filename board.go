package main

import (
	"fmt"
	"math/rand"
	"time"
)

// Direction is a snake's heading for the next tick. Up decrements y: the
// grid origin is the top-left corner, matching the viewer.
type Direction string

const (
	Up    Direction = "up"
	Down  Direction = "down"
	Left  Direction = "left"
	Right Direction = "right"
)

var AllDirections = []Direction{Up, Down, Left, Right}

// ParseDirection validates a wire move string.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Up, Down, Left, Right:
		return Direction(s), nil
	}
	return "", fmt.Errorf("invalid move %q", s)
}

// Vector returns the unit step for the direction.
func (d Direction) Vector() (int, int) {
	switch d {
	case Up:
		return 0, -1
	case Down:
		return 0, 1
	case Left:
		return -1, 0
	case Right:
		return 1, 0
	}
	return 0, 0
}

// Point is a cell on the grid. Color tags body segments for rendering.
type Point struct {
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Color string `json:"color,omitempty"`
}

// FoodItem is food on the board. Hidden items are pre-seeded by a board
// configuration under the static spawn strategy and only count once
// revealed.
type FoodItem struct {
	X      int  `json:"x"`
	Y      int  `json:"y"`
	Hidden bool `json:"hidden,omitempty"`
}

// Teleporter transports a snake entering it to a random other teleporter on
// the same channel.
type Teleporter struct {
	X       int `json:"x"`
	Y       int `json:"y"`
	Channel int `json:"channel"`
}

// ConfigSnake pins a snake's starting body, addressed by id or by ordinal.
type ConfigSnake struct {
	ID     string  `json:"id"`
	Number *int    `json:"number"`
	Coords []Point `json:"coords"`
}

// BoardConfig is the optional JSON board configuration stored with a game.
type BoardConfig struct {
	BoardRows    int           `json:"boardRows"`
	BoardColumns int           `json:"boardColumns"`
	Food         []FoodItem    `json:"food"`
	Gold         []Point       `json:"gold"`
	Walls        []Point       `json:"walls"`
	Teleporters  []Teleporter  `json:"teleporters"`
	Snakes       []ConfigSnake `json:"snakes"`
}

// Cell occupancy kinds, in lookup priority order.
type CellKind int

const (
	CellEmpty CellKind = iota
	CellSnake
	CellFood
	CellGold
	CellWall
	CellTeleporter
)

const (
	DefaultBoardDimension = 20
	StartLength           = 3
	WallDensityCap        = 0.10
)

// Board owns the grid for one game: items, snakes, and the per-tick
// resolution. It is mutated only from its runner's worker goroutine.
type Board struct {
	Width  int
	Height int

	Food        []*FoodItem
	Gold        []Point
	Walls       []Point
	Teleporters []Teleporter

	// Snakes maps id to snake; order fixes the resolution sequence.
	Snakes map[string]*Snake
	order  []string

	// Zero means no spawn has happened yet.
	LastGoldSpawn time.Time
	LastWallSpawn time.Time

	config *BoardConfig
	rng    *rand.Rand

	// Snakes alive when the current resolve pass started. They keep
	// blocking cells until the pass ends, even if killed mid-pass.
	resolving map[string]bool
}

// NewBoard builds a board and places the snakes. A non-nil configuration
// overrides dimensions and seeds the item lists.
func NewBoard(snakes map[string]*Snake, order []string, width, height int, config *BoardConfig, rng *rand.Rand) *Board {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if order == nil {
		for id := range snakes {
			order = append(order, id)
		}
	}

	b := &Board{
		Width:  width,
		Height: height,
		Snakes: snakes,
		order:  order,
		config: config,
		rng:    rng,
	}

	if config != nil {
		b.Width = config.BoardColumns
		b.Height = config.BoardRows
		for i := range config.Food {
			food := config.Food[i]
			b.Food = append(b.Food, &food)
		}
		b.Gold = append(b.Gold, config.Gold...)
		b.Walls = append(b.Walls, config.Walls...)
		b.Teleporters = append(b.Teleporters, config.Teleporters...)
	}
	if b.Width <= 0 {
		b.Width = DefaultBoardDimension
	}
	if b.Height <= 0 {
		b.Height = DefaultBoardDimension
	}

	b.InitializeSnakes()
	return b
}

// Clear wipes every item and re-places the snakes.
func (b *Board) Clear() {
	b.Food = nil
	b.Gold = nil
	b.Walls = nil
	b.Teleporters = nil
	b.InitializeSnakes()
}

// SnakesInOrder returns the snakes in resolution order.
func (b *Board) SnakesInOrder() []*Snake {
	snakes := make([]*Snake, 0, len(b.order))
	for _, id := range b.order {
		snakes = append(snakes, b.Snakes[id])
	}
	return snakes
}

func (b *Board) GetSnakeCount() int { return len(b.Snakes) }

// GetFoodCount counts visible food only.
func (b *Board) GetFoodCount() int {
	count := 0
	for _, f := range b.Food {
		if !f.Hidden {
			count++
		}
	}
	return count
}

func (b *Board) GetGoldCount() int       { return len(b.Gold) }
func (b *Board) GetWallCount() int       { return len(b.Walls) }
func (b *Board) GetTeleporterCount() int { return len(b.Teleporters) }

// WallDensity is the fraction of cells occupied by walls.
func (b *Board) WallDensity() float64 {
	return float64(len(b.Walls)) / float64(b.Width*b.Height)
}

func (b *Board) inBounds(x, y int) bool {
	return x >= 0 && x < b.Width && y >= 0 && y < b.Height
}

// snakeOccupies reports whether a snake's body blocks cells right now.
// Dead snakes stop occupying once the resolve pass that killed them ends.
func (b *Board) snakeOccupies(s *Snake) bool {
	if s.Alive() {
		return true
	}
	return b.resolving != nil && b.resolving[s.ID]
}

// CellAt returns the single occupant of (x, y), checked in priority order:
// snake segment, food, gold, wall, teleporter. The exclude snake is
// skipped entirely, so a mover never collides with its own body.
func (b *Board) CellAt(x, y int, exclude *Snake) (CellKind, interface{}) {
	for _, id := range b.order {
		snake := b.Snakes[id]
		if snake == exclude || !b.snakeOccupies(snake) {
			continue
		}
		for _, segment := range snake.Body {
			if segment.X == x && segment.Y == y {
				return CellSnake, snake
			}
		}
	}

	for _, food := range b.Food {
		if !food.Hidden && food.X == x && food.Y == y {
			return CellFood, food
		}
	}

	for _, gold := range b.Gold {
		if gold.X == x && gold.Y == y {
			return CellGold, gold
		}
	}

	for _, wall := range b.Walls {
		if wall.X == x && wall.Y == y {
			return CellWall, wall
		}
	}

	for _, teleporter := range b.Teleporters {
		if teleporter.X == x && teleporter.Y == y {
			return CellTeleporter, teleporter
		}
	}

	return CellEmpty, nil
}

// RandomEmptyPosition tries the candidates in order, then falls back to
// rejection sampling over the whole grid.
func (b *Board) RandomEmptyPosition(candidates []Point) (int, int) {
	for _, candidate := range candidates {
		if kind, _ := b.CellAt(candidate.X, candidate.Y, nil); kind == CellEmpty {
			return candidate.X, candidate.Y
		}
	}

	x := b.rng.Intn(b.Width)
	y := b.rng.Intn(b.Height)
	for {
		if kind, _ := b.CellAt(x, y, nil); kind == CellEmpty {
			return x, y
		}
		x = b.rng.Intn(b.Width)
		y = b.rng.Intn(b.Height)
	}
}

// InitializeSnakes resets and places every snake. A board configuration may
// pin a snake's body verbatim (overlap allowed until the first tick);
// otherwise the head lands on a random empty cell and the tail grows to
// the start length through free neighbors.
func (b *Board) InitializeSnakes() {
	for index, id := range b.order {
		snake := b.Snakes[id]
		snake.Reset(StartingHealth)

		if pinned := b.pinnedBody(snake.ID, index); pinned != nil {
			body := make([]Point, len(pinned))
			copy(body, pinned)
			for i := range body {
				if body[i].Color == "" {
					body[i].Color = snake.Color
				}
			}
			snake.Body = body
			continue
		}

		x, y := b.RandomEmptyPosition(nil)
		snake.Body = []Point{{X: x, Y: y, Color: snake.Color}}

		for snake.Length() < StartLength {
			next, ok := b.freeTailNeighbor(snake)
			if !ok {
				break
			}
			next.Color = snake.Color
			snake.Body = append(snake.Body, next)
		}
	}
}

func (b *Board) pinnedBody(snakeID string, index int) []Point {
	if b.config == nil {
		return nil
	}
	for _, cs := range b.config.Snakes {
		if cs.ID == snakeID && len(cs.Coords) > 0 {
			return cs.Coords
		}
	}
	for _, cs := range b.config.Snakes {
		if cs.Number != nil && *cs.Number == index && len(cs.Coords) > 0 {
			return cs.Coords
		}
	}
	return nil
}

// freeTailNeighbor picks a board-clipped 4-neighbor of the current tail
// that the body doesn't already cover.
func (b *Board) freeTailNeighbor(snake *Snake) (Point, bool) {
	tail := snake.Body[len(snake.Body)-1]

	var free []Point
	for _, d := range AllDirections {
		dx, dy := d.Vector()
		candidate := Point{X: tail.X + dx, Y: tail.Y + dy}
		if !b.inBounds(candidate.X, candidate.Y) {
			continue
		}
		taken := false
		for _, segment := range snake.Body {
			if segment.X == candidate.X && segment.Y == candidate.Y {
				taken = true
				break
			}
		}
		if !taken {
			free = append(free, candidate)
		}
	}

	if len(free) == 0 {
		return Point{}, false
	}
	return free[b.rng.Intn(len(free))], true
}

// Update advances one tick. First pass: every snake gets a new head from
// its next move and loses one health, before any resolution, so motion is
// simultaneous. Second pass: heads resolve in snake order against bounds,
// items, and other snakes. Kills are recorded against turn.
func (b *Board) Update(turn int, pinTail bool) {
	b.resolving = make(map[string]bool, len(b.order))
	for _, id := range b.order {
		snake := b.Snakes[id]
		if !snake.Alive() || snake.Length() == 0 {
			continue
		}
		b.resolving[id] = true

		snake.Health--

		head := snake.Head()
		dx, dy := snake.NextMove.Vector()
		newHead := Point{X: head.X + dx, Y: head.Y + dy, Color: head.Color}
		if newHead.Color == "" {
			newHead.Color = snake.Color
		}
		snake.Body = append([]Point{newHead}, snake.Body...)
	}

	for _, id := range b.order {
		snake := b.Snakes[id]
		if !b.resolving[id] {
			continue
		}
		b.resolveHead(snake, turn, pinTail)
	}
	b.resolving = nil
}

func (b *Board) resolveHead(snake *Snake, turn int, pinTail bool) {
	head := snake.Head()

	if !b.inBounds(head.X, head.Y) {
		snake.Kill(turn, DeathReasonOutOfBounds, "")
		return
	}

	kind, occupant := b.CellAt(head.X, head.Y, snake)
	switch kind {
	case CellFood:
		snake.Health = StartingHealth
		b.removeFood(occupant.(*FoodItem))

	case CellGold:
		snake.Score += 5
		snake.IncrGold()
		b.removeGold(occupant.(Point))

	case CellWall:
		snake.Kill(turn, DeathReasonWall, "")

	case CellTeleporter:
		entry := occupant.(Teleporter)
		if exit, ok := b.randomChannelExit(entry); ok {
			snake.Body[0] = Point{X: exit.X, Y: exit.Y, Color: head.Color}
		}

	case CellSnake:
		other := occupant.(*Snake)
		otherHead := other.Head()
		if otherHead.X == head.X && otherHead.Y == head.Y {
			// Head to head: length wins, ties go against the mover.
			if snake.Length() > other.Length() {
				snake.Score++
			} else {
				snake.Kill(turn, DeathReasonKilled, other.ID)
				other.IncrKills()
			}
		} else {
			snake.Kill(turn, DeathReasonCollision, other.ID)
		}

	default:
		snake.Score += 0.1
		if !pinTail {
			snake.Body = snake.Body[:len(snake.Body)-1]
		}
	}
}

func (b *Board) removeFood(item *FoodItem) {
	for i, f := range b.Food {
		if f == item {
			b.Food = append(b.Food[:i], b.Food[i+1:]...)
			return
		}
	}
}

func (b *Board) removeGold(item Point) {
	for i, g := range b.Gold {
		if g.X == item.X && g.Y == item.Y {
			b.Gold = append(b.Gold[:i], b.Gold[i+1:]...)
			return
		}
	}
}

// randomChannelExit picks a uniformly random other teleporter on the entry's
// channel. A lone teleporter has no effect.
func (b *Board) randomChannelExit(entry Teleporter) (Teleporter, bool) {
	var exits []Teleporter
	for _, t := range b.Teleporters {
		if t.Channel == entry.Channel && (t.X != entry.X || t.Y != entry.Y) {
			exits = append(exits, t)
		}
	}
	if len(exits) == 0 {
		return Teleporter{}, false
	}
	return exits[b.rng.Intn(len(exits))], true
}

// SpawnRandomFood places count visible food items, preferring the
// configuration's seed positions when present.
func (b *Board) SpawnRandomFood(count int) {
	for i := 0; i < count; i++ {
		x, y := b.RandomEmptyPosition(b.configFoodCandidates())
		b.SpawnFood(x, y)
	}
}

func (b *Board) configFoodCandidates() []Point {
	if b.config == nil {
		return nil
	}
	candidates := make([]Point, 0, len(b.config.Food))
	for _, f := range b.config.Food {
		candidates = append(candidates, Point{X: f.X, Y: f.Y})
	}
	return candidates
}

func (b *Board) SpawnFood(x, y int) {
	b.Food = append(b.Food, &FoodItem{X: x, Y: y})
}

// RevealFood flips the first hidden food visible; the static spawn
// strategy's top-up. Reports whether anything was revealed.
func (b *Board) RevealFood() bool {
	for _, f := range b.Food {
		if f.Hidden {
			f.Hidden = false
			return true
		}
	}
	return false
}

func (b *Board) SpawnRandomGold(count int) {
	for i := 0; i < count; i++ {
		x, y := b.RandomEmptyPosition(goldCandidates(b.config))
		b.SpawnGold(x, y)
	}
}

func goldCandidates(config *BoardConfig) []Point {
	if config == nil {
		return nil
	}
	return config.Gold
}

func (b *Board) SpawnGold(x, y int) {
	b.Gold = append(b.Gold, Point{X: x, Y: y})
	b.LastGoldSpawn = timeNow()
}

// SpawnRandomTeleporters places count pairs; each pair shares a private
// channel.
func (b *Board) SpawnRandomTeleporters(count int) {
	channel := 0
	for _, t := range b.Teleporters {
		if t.Channel > channel {
			channel = t.Channel
		}
	}
	for i := 0; i < count; i++ {
		channel++
		for j := 0; j < 2; j++ {
			x, y := b.RandomEmptyPosition(nil)
			b.SpawnTeleporter(x, y, channel)
		}
	}
}

func (b *Board) SpawnTeleporter(x, y, channel int) {
	b.Teleporters = append(b.Teleporters, Teleporter{X: x, Y: y, Channel: channel})
}

func (b *Board) SpawnRandomWalls(count int) {
	for i := 0; i < count; i++ {
		x, y := b.RandomEmptyPosition(nil)
		b.SpawnWall(x, y)
	}
}

func (b *Board) SpawnWall(x, y int) {
	b.Walls = append(b.Walls, Point{X: x, Y: y})
	b.LastWallSpawn = timeNow()
}

// timeNow is swapped out by throttle tests.
var timeNow = time.Now
