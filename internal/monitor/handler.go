package monitor

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gorilla/websocket"

	"meterrelay/internal/logger"
	"meterrelay/internal/model"
	"meterrelay/internal/repository"
)

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HealthSource supplies the latest health snapshot.
type HealthSource interface {
	Last() model.HealthSnapshot
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// HealthHandler returns the last health snapshot. Status 503 when the process
// reports an error or has stopped.
func HealthHandler(source HealthSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		snapshot := source.Last()
		status := http.StatusOK
		if snapshot.Status != model.HealthRunning {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, snapshot)
	}
}

// ImagesHandler lists the newest catalogued images (?limit=N, default 20, max 200).
func ImagesHandler(images repository.ImageRepository, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if images == nil {
			writeJSON(w, http.StatusOK, []model.Image{})
			return
		}

		limit := atoiDefault(r.URL.Query().Get("limit"), 20)
		if limit > 200 {
			limit = 200
		}

		list, err := images.GetLatest(limit)
		if err != nil {
			log.Error("Error listing images: %v", err)
			http.Error(w, "failed to list images", http.StatusInternalServerError)
			return
		}
		if list == nil {
			list = []model.Image{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// LiveHandler registers websocket viewers with the hub.
func LiveHandler(hub *Hub, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("WebSocket upgrade error: %v", err)
			return
		}

		hub.Register(connection)
		defer hub.Unregister(connection)

		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debug("Viewer disconnected with error: %v", err)
				}
				break
			}
		}
	}
}

// LogFileHandler serves one of the logger's files as text/plain.
func LogFileHandler(logDir, filename string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filePath := filepath.Join(logDir, filename)

		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("Log file not found: " + filename))
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")

		http.ServeFile(w, r, filePath)
	}
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return def
	}
	return n
}
