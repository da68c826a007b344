package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gregjohnson/lektrico-bridge/internal/property"
	"github.com/gregjohnson/lektrico-bridge/internal/reconcile"
	"github.com/gregjohnson/lektrico-bridge/internal/storage"
)

// Version information, set via ldflags at build time
var (
	Version   = "dev"
	BuildDate = "unknown"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

// StatusResponse represents the overall system status
type StatusResponse struct {
	Charger  ConnectionStatus          `json:"charger"`
	MQTT     bool                      `json:"mqtt_connected"`
	InfluxDB bool                      `json:"influxdb_connected"`
	Sequence *reconcile.Sequence       `json:"sequence"`
	Echoes   map[string]reconcile.Echo `json:"echoes,omitempty"`
}

// ConnectionStatus represents a connection status
type ConnectionStatus struct {
	Connected bool       `json:"connected"`
	LastPoll  *time.Time `json:"last_poll,omitempty"`
}

// WriteRequest is the body of PUT /api/properties/{name}
type WriteRequest struct {
	Value *float64 `json:"value"`
}

// WriteResponse reports whether an external write was accepted
type WriteResponse struct {
	Accepted bool           `json:"accepted"`
	Property property.Entry `json:"property"`
}

// VersionResponse represents version info
type VersionResponse struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
}

// handleStatus returns overall system status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rs := s.service.GetReconcilerStatus()

	status := StatusResponse{
		Charger:  ConnectionStatus{Connected: rs.Available},
		MQTT:     s.service.MQTTConnected(),
		InfluxDB: s.service.InfluxConnected(),
		Sequence: rs.Sequence,
		Echoes:   rs.Echoes,
	}
	if !rs.LastPoll.IsZero() {
		lastPoll := rs.LastPoll
		status.Charger.LastPoll = &lastPoll
	}

	writeJSON(w, status)
}

// handleGetProperties returns every published property
func (s *Server) handleGetProperties(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.service.GetStore().Entries())
}

// handleGetProperty returns one property
func (s *Server) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	entry, ok := s.service.GetStore().Entry(name)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown property")
		return
	}
	writeJSON(w, entry)
}

// handleWriteProperty applies an external write through the store
func (s *Server) handleWriteProperty(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	store := s.service.GetStore()
	accepted, err := store.Write(r.Context(), name, *req.Value)
	switch {
	case errors.Is(err, property.ErrUnknownProperty):
		writeError(w, http.StatusNotFound, "Unknown property")
		return
	case errors.Is(err, property.ErrReadOnly):
		writeError(w, http.StatusForbidden, "Property is read-only")
		return
	case err != nil:
		s.logger.Error("Write %s failed: %v", name, err)
		writeError(w, http.StatusInternalServerError, "Write failed")
		return
	}

	s.service.GetJournal().LogEvent(storage.EventSourceAPI, storage.EventTypeCommand,
		fmt.Sprintf("API write %s=%v", name, *req.Value), map[string]interface{}{
			"property": name,
			"value":    *req.Value,
			"accepted": accepted,
		})

	entry, _ := store.Entry(name)
	status := http.StatusOK
	if !accepted {
		status = http.StatusConflict
	}
	writeJSONStatus(w, status, WriteResponse{Accepted: accepted, Property: entry})
}

// handleGetLogs returns event logs
func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.EventLogFilter{
		Limit: parseLimit(q.Get("limit")),
	}
	if offsetStr := q.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}
	if source := q.Get("source"); source != "" {
		src := storage.EventSource(source)
		filter.Source = &src
	}
	if eventType := q.Get("type"); eventType != "" {
		et := storage.EventType(eventType)
		filter.EventType = &et
	}
	if since, ok := parseTime(q.Get("since")); ok {
		filter.Since = &since
	}

	logs, err := s.service.GetJournal().GetEventLogs(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get logs")
		return
	}

	writeJSON(w, logs)
}

// handleGetCommands returns the command journal
func (s *Server) handleGetCommands(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.CommandFilter{
		Kind:       q.Get("kind"),
		SequenceID: q.Get("sequence_id"),
		Limit:      parseLimit(q.Get("limit")),
	}
	if since, ok := parseTime(q.Get("since")); ok {
		filter.Since = &since
	}

	commands, err := s.service.GetJournal().GetCommands(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get commands")
		return
	}

	writeJSON(w, commands)
}

// handleVersion returns version information
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, VersionResponse{
		Version:   Version,
		BuildDate: BuildDate,
	})
}

func parseLimit(s string) int {
	limit, err := strconv.Atoi(s)
	if err != nil || limit <= 0 {
		return defaultLogLimit
	}
	if limit > maxLogLimit {
		return maxLogLimit
	}
	return limit
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, data interface{}) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSONStatus(w, status, map[string]string{"error": message})
}
