// Package devserver is a development remote authority implementing the
// sync wire contract over SQLite. It exists for local development and
// integration tests; it is not the production backend.
package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/iudanet/hearthsync/internal/devserver/sqlite"
	"github.com/iudanet/hearthsync/pkg/api"
)

// Server serves the pull, push and realtime endpoints.
type Server struct {
	storage *sqlite.Storage
	hub     *hub
	logger  *slog.Logger
}

// New creates a server over the given entity log.
func New(storage *sqlite.Storage, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "devserver")
	return &Server{
		storage: storage,
		hub:     newHub(logger),
		logger:  logger,
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sync", s.handlePull)
	mux.HandleFunc("POST /sync/batch", s.handlePush)
	mux.HandleFunc("GET /realtime", s.handleRealtime)
	return mux
}

// Close disconnects all realtime clients.
func (s *Server) Close() {
	s.hub.closeAll()
}

// handlePull serves GET /sync?type=<entityType>&since=<cursor>.
func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	entityType := r.URL.Query().Get("type")
	if entityType == "" {
		s.writeError(w, http.StatusBadRequest, "missing type parameter")
		return
	}

	var since int64
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		var err error
		since, err = strconv.ParseInt(sinceStr, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid since parameter")
			return
		}
	}

	records, cursor, err := s.storage.ChangesSince(r.Context(), entityType, since)
	if err != nil {
		s.logger.Error("failed to load changes", "error", err, "type", entityType)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if records == nil {
		records = []api.Entity{}
	}

	s.writeJSON(w, http.StatusOK, api.PullResponse{
		Cursor:  strconv.FormatInt(cursor, 10),
		Records: records,
	})
	s.logger.Debug("pull served", "type", entityType, "since", since, "records", len(records))
}

// handlePush serves POST /sync/batch.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var req api.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp := api.PushResponse{Results: make([]api.PushResult, 0, len(req.Operations))}
	for _, op := range req.Operations {
		result, err := s.storage.ApplyOperation(r.Context(), op)
		if err != nil {
			s.logger.Error("failed to apply operation",
				"error", err, "entity_id", op.EntityID)
			s.writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		resp.Results = append(resp.Results, result)

		if result.Outcome == api.OutcomeApplied {
			s.notify(r.Context(), op, result)
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// notify broadcasts an applied change to realtime subscribers.
func (s *Server) notify(ctx context.Context, op api.PushOperation, result api.PushResult) {
	record, err := s.storage.GetRecord(ctx, op.EntityType, op.EntityID)
	if err != nil {
		s.logger.Warn("failed to load record for broadcast", "error", err)
		return
	}

	changeType := api.ChangeUpdate
	switch {
	case op.OperationKind == api.OperationDelete:
		changeType = api.ChangeDelete
	case result.ServerVersion == 1:
		changeType = api.ChangeInsert
	}

	s.hub.broadcast(ctx, api.ChangeMessage{
		Type:       changeType,
		EntityType: op.EntityType,
		Data:       *record,
	})
}

// handleRealtime upgrades to a websocket subscription filtered by the
// types query parameter.
func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	var entityTypes []string
	if raw := r.URL.Query().Get("types"); raw != "" {
		entityTypes = strings.Split(raw, ",")
	}

	client := s.hub.add(conn, entityTypes)
	s.logger.Info("realtime client connected", "types", entityTypes)

	// Read loop only detects disconnects; clients never send data.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}

	s.hub.remove(client)
	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("realtime client disconnected")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{
		Error:   fmt.Sprintf("%d", status),
		Message: message,
	})
}
