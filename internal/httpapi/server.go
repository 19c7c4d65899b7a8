package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/practicehub/calsync/internal/calsync"
)

type ServerConfig struct {
	// WriteToken guards mutating endpoints when non-empty. Reads are
	// always served without auth; they only touch the cache.
	WriteToken   string
	MaxBodyBytes int64
}

type Server struct {
	store  *calsync.Store
	syncer *calsync.Syncer
	cfg    ServerConfig
}

func NewServer(store *calsync.Store, syncer *calsync.Syncer) *Server {
	return NewServerWithConfig(store, syncer, ServerConfig{})
}

func NewServerWithConfig(store *calsync.Store, syncer *calsync.Syncer, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Server{store: store, syncer: syncer, cfg: cfg}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/" && r.Method == http.MethodGet {
		s.handleDashboard(w, r)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	switch {
	case len(parts) == 2 && parts[0] == "v1" && parts[1] == "events" && r.Method == http.MethodGet:
		s.handleReadEvents(w, r)
	case len(parts) == 2 && parts[0] == "v1" && parts[1] == "events" && r.Method == http.MethodPost:
		s.withWriteAuth(w, r, s.handleCreateManualEvent)
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "events" && r.Method == http.MethodPatch:
		s.withWriteAuth(w, r, func(w http.ResponseWriter, r *http.Request) {
			s.handlePatchEvent(w, r, calsync.Source(parts[2]), parts[3])
		})
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "events" && parts[2] == "manual" && r.Method == http.MethodDelete:
		s.withWriteAuth(w, r, func(w http.ResponseWriter, r *http.Request) {
			s.handleDeleteManualEvent(w, r, parts[3])
		})
	case len(parts) == 2 && parts[0] == "v1" && parts[1] == "sync" && r.Method == http.MethodPost:
		s.withWriteAuth(w, r, s.handleTriggerSync)
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "sync" && parts[2] == "status" && r.Method == http.MethodGet:
		s.handleSyncStatus(w, r)
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "sync" && parts[2] == "watch" && r.Method == http.MethodGet:
		s.handleSyncWatch(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

func (s *Server) withWriteAuth(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	if err := authorizeWrite(r.Header.Get("Authorization"), s.cfg.WriteToken); err != nil {
		writeError(w, err.status, err.code, err.message)
		return
	}
	next(w, r)
}

func (s *Server) handleReadEvents(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRangeQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
		return
	}
	events, err := s.store.Read(rng)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

type createManualEventRequest struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	Notes       []string  `json:"notes"`
	ActionItems []string  `json:"actionItems"`
}

func (s *Server) handleCreateManualEvent(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if err := calsync.ValidateManualEventPayload(body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "schema_violation", err.Error())
		return
	}
	var req createManualEventRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	created, err := s.store.PutManualEvent(calsync.Event{
		ID:          req.ID,
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Notes:       req.Notes,
		ActionItems: req.ActionItems,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handlePatchEvent(w http.ResponseWriter, r *http.Request, source calsync.Source, id string) {
	if !source.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_source", "unknown source: "+string(source))
		return
	}
	body, err := s.readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if err := calsync.ValidateEventPatchPayload(body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "schema_violation", err.Error())
		return
	}
	var patch calsync.EventPatch
	if err := json.Unmarshal(body, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	updated, err := s.store.PatchEvent(calsync.EventKey{Source: source, ID: id}, patch)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteManualEvent(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.store.DeleteManualEvent(id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

type triggerSyncRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	var req triggerSyncRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	result, err := s.syncer.Sync(r.Context(), calsync.TimeRange{Start: req.Start, End: req.End})
	if err != nil {
		switch {
		case errors.Is(err, calsync.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
		case errors.Is(err, calsync.ErrCacheWrite):
			writeError(w, http.StatusServiceUnavailable, "sync_failed", "sync failed, serving stale data")
		default:
			writeError(w, http.StatusInternalServerError, "sync_failed", err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type syncStatusResponse struct {
	State      calsync.SyncState            `json:"state"`
	Active     []calsync.ActiveSync         `json:"active"`
	LastSynced map[calsync.Source]time.Time `json:"lastSynced"`
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	lastSynced := map[calsync.Source]time.Time{}
	for _, src := range []calsync.Source{calsync.SourceRemoteCalendar, calsync.SourcePractice, calsync.SourceManual} {
		if ts, ok := s.store.LastSyncedAt(src); ok {
			lastSynced[src] = ts
		}
	}
	writeJSON(w, http.StatusOK, syncStatusResponse{
		State:      s.syncer.State(),
		Active:     s.syncer.Active(),
		LastSynced: lastSynced,
	})
}

// handleSyncWatch streams completed sync-cycle summaries until the
// client goes away.
func (s *Server) handleSyncWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	results, cancel := s.syncer.Subscribe()
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case result, ok := <-results:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := wsjson.Write(ctx, conn, result); err != nil {
				return
			}
		}
	}
}

func (s *Server) readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxBodyBytes))
}

func parseRangeQuery(r *http.Request) (calsync.TimeRange, error) {
	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		return calsync.TimeRange{}, errors.New("start must be RFC3339")
	}
	end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
	if err != nil {
		return calsync.TimeRange{}, errors.New("end must be RFC3339")
	}
	rng := calsync.TimeRange{Start: start, End: end}
	if err := rng.Validate(); err != nil {
		return calsync.TimeRange{}, err
	}
	return rng, nil
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, calsync.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, calsync.ErrNotEditable):
		writeError(w, http.StatusForbidden, "not_editable", err.Error())
	case errors.Is(err, calsync.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, calsync.ErrCacheWrite):
		writeError(w, http.StatusServiceUnavailable, "cache_write_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
