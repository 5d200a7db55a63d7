package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Store is the persistence surface the runners and manager consume. The
// production implementation is prepared statements over Postgres.
type Store interface {
	GetGame(ctx context.Context, gameID string) (*GameRecord, error)
	GetGameSnakes(ctx context.Context, gameID string) ([]*Snake, error)
	SetGameStatus(ctx context.Context, status, gameID string) error
	// CompleteGame marks the game COMPLETED and persists the final places
	// in one transaction.
	CompleteGame(ctx context.Context, gameID string, places []SnakePlace) error
	// GetChildGame returns the game cloned from gameID, or nil.
	GetChildGame(ctx context.Context, gameID string) (*GameRecord, error)
	// CloneGame copies the game row under a fresh id, along with its
	// snake-game join rows, in one transaction.
	CloneGame(ctx context.Context, gameID string) (*GameRecord, error)
}

const gameColumns = `
	"g"."id"::text, "g"."creatorId"::text, "g"."status", "g"."boardColumns", "g"."boardRows",
	"g"."boardFoodCount", "g"."boardFoodStrategy",
	"g"."boardHasGold", "g"."boardGoldCount", "g"."boardGoldStrategy",
	"g"."boardGoldWinningThreshold", "g"."boardGoldRespawnInterval",
	"g"."boardHasWalls", "g"."boardHasTeleporters", "g"."boardTeleporterCount",
	"g"."pinTail", "g"."tickRate", "g"."responseTime", "g"."turnLimit", "g"."gameType",
	"g"."devMode", "g"."visibility",
	"d"."id"::text AS "daemon_id", "d"."name" AS "daemon_name", "d"."url" AS "daemon_url",
	"bc"."id"::text AS "board_configuration_id", "bc"."name" AS "board_configuration_name",
	"bc"."configuration" AS "board_configuration"`

const getGameSQL = `
	SELECT` + gameColumns + `
	FROM "public"."Games" AS "g"
	LEFT JOIN "public"."Daemons" AS "d" ON "g"."daemonId" = "d"."id"
	LEFT JOIN "public"."BoardConfigurations" AS "bc" ON "g"."boardConfigurationId" = "bc"."id"
	WHERE "g"."id" = $1`

const getChildGameSQL = `
	SELECT` + gameColumns + `
	FROM "public"."Games" AS "g"
	LEFT JOIN "public"."Daemons" AS "d" ON "g"."daemonId" = "d"."id"
	LEFT JOIN "public"."BoardConfigurations" AS "bc" ON "g"."boardConfigurationId" = "bc"."id"
	WHERE "g"."parentGameId" = $1`

const getGameSnakesSQL = `
	SELECT
		"s"."id"::text, "s"."name", "s"."defaultColor", "s"."headImage", "s"."headImageUrl",
		"s"."apiVersion", "s"."isBountySnake", "s"."url", "s"."devUrl"
	FROM "public"."Snakes" AS "s"
	LEFT JOIN "public"."SnakeGames" AS "sg" ON "s"."id" = "sg"."SnakeId"
	LEFT JOIN "public"."Games" AS "g" ON "sg"."GameId" = "g"."id"
	WHERE "g"."id" = $1`

const setGameStatusSQL = `
	UPDATE "public"."Games" AS "g" SET "status" = $1 WHERE "g"."id" = $2`

const setSnakePlaceSQL = `
	UPDATE "public"."SnakeGames" SET "place" = $1 WHERE "SnakeId" = $2 AND "GameId" = $3`

const cloneGameSQL = `
	INSERT INTO "public"."Games" (
		"id", "parentGameId", "creatorId", "status", "boardColumns", "boardRows",
		"boardFoodCount", "boardFoodStrategy",
		"boardHasGold", "boardGoldCount", "boardGoldStrategy",
		"boardGoldWinningThreshold", "boardGoldRespawnInterval",
		"boardHasWalls", "boardHasTeleporters", "boardTeleporterCount",
		"pinTail", "tickRate", "responseTime", "turnLimit", "gameType",
		"devMode", "visibility", "boardConfigurationId", "daemonId", "createdAt", "updatedAt"
	) SELECT
		$1, $2, "creatorId", 'CREATED', "boardColumns", "boardRows",
		"boardFoodCount", "boardFoodStrategy",
		"boardHasGold", "boardGoldCount", "boardGoldStrategy",
		"boardGoldWinningThreshold", "boardGoldRespawnInterval",
		"boardHasWalls", "boardHasTeleporters", "boardTeleporterCount",
		"pinTail", "tickRate", "responseTime", "turnLimit", "gameType",
		"devMode", "visibility", "boardConfigurationId", "daemonId", NOW(), NOW()
	FROM "public"."Games" WHERE "id" = $2`

const cloneSnakeGamesSQL = `
	INSERT INTO "public"."SnakeGames" ("GameId", "SnakeId", "createdAt", "updatedAt")
	SELECT $1, "SnakeId", NOW(), NOW() FROM "public"."SnakeGames" WHERE "GameId" = $2`

// PostgresStore prepares every statement once at construction.
type PostgresStore struct {
	db *sql.DB

	getGame         *sql.Stmt
	getChildGame    *sql.Stmt
	getGameSnakes   *sql.Stmt
	setGameStatus   *sql.Stmt
	setSnakePlace   *sql.Stmt
	cloneGame       *sql.Stmt
	cloneSnakeGames *sql.Stmt
}

func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}

	statements := []struct {
		stmt **sql.Stmt
		sql  string
	}{
		{&s.getGame, getGameSQL},
		{&s.getChildGame, getChildGameSQL},
		{&s.getGameSnakes, getGameSnakesSQL},
		{&s.setGameStatus, setGameStatusSQL},
		{&s.setSnakePlace, setSnakePlaceSQL},
		{&s.cloneGame, cloneGameSQL},
		{&s.cloneSnakeGames, cloneSnakeGamesSQL},
	}
	for _, entry := range statements {
		stmt, err := db.Prepare(entry.sql)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare statement: %w", err)
		}
		*entry.stmt = stmt
	}

	return s, nil
}

func scanGame(row *sql.Row) (*GameRecord, error) {
	var g GameRecord
	var daemonID, daemonName, daemonURL sql.NullString
	var configID, configName, config sql.NullString
	var creatorID, visibility sql.NullString

	err := row.Scan(
		&g.ID, &creatorID, &g.Status, &g.BoardColumns, &g.BoardRows,
		&g.BoardFoodCount, &g.BoardFoodStrategy,
		&g.BoardHasGold, &g.BoardGoldCount, &g.BoardGoldStrategy,
		&g.BoardGoldWinningThreshold, &g.BoardGoldRespawnInterval,
		&g.BoardHasWalls, &g.BoardHasTeleporters, &g.BoardTeleporterCount,
		&g.PinTail, &g.TickRate, &g.ResponseTime, &g.TurnLimit, &g.GameType,
		&g.DevMode, &visibility,
		&daemonID, &daemonName, &daemonURL,
		&configID, &configName, &config,
	)
	if err != nil {
		return nil, err
	}

	g.CreatorID = creatorID.String
	g.Visibility = visibility.String
	g.DaemonID = daemonID.String
	g.DaemonName = daemonName.String
	g.DaemonURL = daemonURL.String
	g.BoardConfigurationID = configID.String
	g.BoardConfigurationName = configName.String
	g.BoardConfiguration = config.String
	return &g, nil
}

func (s *PostgresStore) GetGame(ctx context.Context, gameID string) (*GameRecord, error) {
	game, err := scanGame(s.getGame.QueryRowContext(ctx, gameID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("game %s not found", gameID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch game %s: %w", gameID, err)
	}
	return game, nil
}

func (s *PostgresStore) GetGameSnakes(ctx context.Context, gameID string) ([]*Snake, error) {
	rows, err := s.getGameSnakes.QueryContext(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snakes for game %s: %w", gameID, err)
	}
	defer rows.Close()

	var snakes []*Snake
	for rows.Next() {
		snake := &Snake{Health: StartingHealth, NextMove: Up}
		var headImage, headImageURL, devURL, apiVersion sql.NullString
		err := rows.Scan(
			&snake.ID, &snake.Name, &snake.Color, &headImage, &headImageURL,
			&apiVersion, &snake.IsBountySnake, &snake.URL, &devURL,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snake row: %w", err)
		}
		snake.HeadImage = headImage.String
		snake.HeadImageURL = headImageURL.String
		snake.DevURL = devURL.String
		snake.APIVersion = apiVersion.String
		snakes = append(snakes, snake)
	}
	return snakes, rows.Err()
}

func (s *PostgresStore) SetGameStatus(ctx context.Context, status, gameID string) error {
	if _, err := s.setGameStatus.ExecContext(ctx, status, gameID); err != nil {
		return fmt.Errorf("failed to set game %s status %s: %w", gameID, status, err)
	}
	return nil
}

func (s *PostgresStore) CompleteGame(ctx context.Context, gameID string, places []SnakePlace) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.StmtContext(ctx, s.setGameStatus).ExecContext(ctx, StatusCompleted, gameID); err != nil {
		return fmt.Errorf("failed to complete game %s: %w", gameID, err)
	}
	for _, place := range places {
		if _, err := tx.StmtContext(ctx, s.setSnakePlace).ExecContext(ctx, place.Place, place.SnakeID, gameID); err != nil {
			return fmt.Errorf("failed to set place for snake %s: %w", place.SnakeID, err)
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) GetChildGame(ctx context.Context, gameID string) (*GameRecord, error) {
	game, err := scanGame(s.getChildGame.QueryRowContext(ctx, gameID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch child of game %s: %w", gameID, err)
	}
	return game, nil
}

func (s *PostgresStore) CloneGame(ctx context.Context, gameID string) (*GameRecord, error) {
	newID := uuid.New().String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.StmtContext(ctx, s.cloneGame).ExecContext(ctx, newID, gameID); err != nil {
		return nil, fmt.Errorf("failed to clone game %s: %w", gameID, err)
	}
	if _, err := tx.StmtContext(ctx, s.cloneSnakeGames).ExecContext(ctx, newID, gameID); err != nil {
		return nil, fmt.Errorf("failed to clone snake joins for game %s: %w", gameID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit clone of game %s: %w", gameID, err)
	}

	return s.GetGame(ctx, newID)
}
