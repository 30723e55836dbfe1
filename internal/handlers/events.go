package handlers

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"aimonitor/internal/logger"
	"aimonitor/internal/model"
	"aimonitor/internal/repository"
)

// EventsPage is the response of GET /api/events.
type EventsPage struct {
	Events      []model.Event `json:"events"`
	CurrentPage int           `json:"currentPage"`
	Limit       int           `json:"pageSize"`
}

func writeJSON(w http.ResponseWriter, logger *logger.Logger, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}

// atoiDefault parses a positive integer, falling back to def.
func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// GetEventsHandler lists journaled events, newest first.
// Query: sensor, message, from, to (RFC3339), page, limit.
func GetEventsHandler(repo repository.EventRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		page := atoiDefault(q.Get("page"), 1)
		limit := atoiDefault(q.Get("limit"), 20)

		events, err := repo.GetAll(&model.EventFilter{
			Sensor:    q.Get("sensor"),
			Message:   q.Get("message"),
			StartDate: parseTime(q.Get("from")),
			EndDate:   parseTime(q.Get("to")),
			Limit:     limit,
			Offset:    (page - 1) * limit,
		})
		if err != nil {
			logger.Error("Error loading events: %v", err)
			http.Error(w, "Failed to load events", http.StatusInternalServerError)
			return
		}
		if events == nil {
			events = []model.Event{}
		}

		writeJSON(w, logger, EventsPage{Events: events, CurrentPage: page, Limit: limit})
	}
}

// GetStatsHandler returns journal statistics.
func GetStatsHandler(repo repository.EventRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := repo.GetStats()
		if err != nil {
			logger.Error("Error loading stats: %v", err)
			http.Error(w, "Failed to load stats", http.StatusInternalServerError)
			return
		}
		writeJSON(w, logger, stats)
	}
}

// ViewEventImageHandler serves the image of event {id}.
func ViewEventImageHandler(repo repository.EventRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ev, err := repo.GetByID(r.PathValue("id"))
		if err != nil {
			logger.Error("Error loading event: %v", err)
			http.Error(w, "Failed to load event", http.StatusInternalServerError)
			return
		}
		if ev == nil {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, ev.FilePath)
	}
}

// DeleteEventHandler removes event {id} and its image.
func DeleteEventHandler(repo repository.EventRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ev, err := repo.GetByID(r.PathValue("id"))
		if err != nil {
			logger.Error("Error loading event: %v", err)
			http.Error(w, "Failed to load event", http.StatusInternalServerError)
			return
		}
		if ev == nil {
			http.NotFound(w, r)
			return
		}

		if err := os.Remove(ev.FilePath); err != nil && !os.IsNotExist(err) {
			logger.Warning("Error removing image %s: %v", ev.FilePath, err)
		}
		if err := repo.Delete(ev.ID); err != nil {
			logger.Error("Error deleting event %s: %v", ev.ID, err)
			http.Error(w, "Failed to delete event", http.StatusInternalServerError)
			return
		}

		logger.Info("Deleted event %s", ev.ID)
		w.WriteHeader(http.StatusNoContent)
	}
}
