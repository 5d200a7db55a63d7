package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Viewers come from anywhere.
		return true
	},
}

// NewRouter wires the HTTP debug surface and the websocket endpoint.
func NewRouter(m *Manager) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/", handleIndex(m))
	router.HandleFunc("/start/{id}", handleStart(m))
	router.HandleFunc("/board/{id}", handleBoard(m))
	router.HandleFunc("/step/{id}", handleStep(m))
	router.HandleFunc("/ws", handleWebsocket(m))
	return router
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func handleIndex(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, m.GameIDs())
	}
}

func handleStart(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameID := mux.Vars(r)["id"]
		if err := m.StartGame(gameID); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, m.GameIDs())
	}
}

func handleBoard(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameID := mux.Vars(r)["id"]
		runner, _, err := m.FindOrCreateGame(gameID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, runner.Snapshot())
	}
}

func handleStep(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameID := mux.Vars(r)["id"]
		if err := m.StepGame(gameID); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{})
	}
}

// handleWebsocket runs one viewer session: a watch command joins a game
// room, keyboard commands drive the watched game, disconnect tears the
// subscription down.
func handleWebsocket(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Info("websocket upgrade failed", "err", err)
			return
		}

		client := NewClient(ws)
		go client.WritePump()
		slog.Info("client connected", "client_id", client.ID)

		var watching *Runner
		defer func() {
			if watching != nil {
				m.DisconnectGame(watching, client)
			}
			client.Close()
			slog.Info("client disconnected", "client_id", client.ID)
		}()

		for {
			_, raw, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Info("websocket read failed", "client_id", client.ID, "err", err)
				}
				return
			}

			var cmd ClientCommand
			if err := json.Unmarshal(raw, &cmd); err != nil {
				client.Send(EventError, fmt.Sprintf("bad command: %v", err))
				continue
			}

			switch cmd.Event {
			case "watch":
				runner, created, err := m.FindOrCreateGame(cmd.GameID)
				if err != nil {
					client.Send(EventError, err.Error())
					continue
				}
				watching = runner
				m.WatchGame(runner, client)
				client.Send(EventMessage, fmt.Sprintf("watching %s", cmd.GameID))
				if created {
					go runner.Run()
				}

			case "keyboard_event":
				if watching == nil {
					client.Send(EventError, "not watching a game")
					continue
				}
				if err := dispatchKeyboardEvent(m, watching.GameID(), cmd.Key); err != nil {
					client.Send(EventError, err.Error())
					continue
				}
				client.Send(EventMessage, fmt.Sprintf("handled keyboard_event: %s", cmd.Key))

			default:
				client.Send(EventError, fmt.Sprintf("unknown event: %s", cmd.Event))
			}
		}
	}
}

func dispatchKeyboardEvent(m *Manager, gameID, key string) error {
	slog.Info("keyboard event", "game_id", gameID, "key", key)

	switch key {
	case "q":
		return m.RestartGame(gameID)
	case "d":
		return m.StepGame(gameID)
	case "w":
		return m.StartGame(gameID)
	case "s":
		return m.PauseGame(gameID)
	case "e":
		return m.ToggleGameMode(gameID)
	}
	return fmt.Errorf("unknown keyboard_event: %s", key)
}
