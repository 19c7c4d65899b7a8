package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/practicehub/calsync/internal/calsync"
)

type stubAdapter struct {
	events []calsync.Event
}

func (a *stubAdapter) Source() calsync.Source { return calsync.SourceRemoteCalendar }

func (a *stubAdapter) Fetch(ctx context.Context, rng calsync.TimeRange) ([]calsync.Event, error) {
	return a.events, nil
}

func testRange() calsync.TimeRange {
	return calsync.TimeRange{
		Start: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC),
	}
}

func newTestServer(t *testing.T, cfg ServerConfig) (*Server, *calsync.Store, *calsync.Syncer) {
	t.Helper()
	rng := testRange()
	store := calsync.NewStore()
	adapter := &stubAdapter{events: []calsync.Event{{
		ID:        "gcal-1",
		Title:     "Standup",
		StartTime: rng.Start.Add(9 * time.Hour),
		EndTime:   rng.Start.Add(10 * time.Hour),
		Source:    calsync.SourceRemoteCalendar,
	}}}
	syncer := calsync.NewSyncer(calsync.SyncerOptions{
		Store:    store,
		Adapters: []calsync.SourceAdapter{adapter, calsync.NewManualAdapter(store)},
	})
	return NewServerWithConfig(store, syncer, cfg), store, syncer
}

func doRequest(server *Server, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	server, _, _ := newTestServer(t, ServerConfig{})
	rec := doRequest(server, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestReadEventsRequiresValidRange(t *testing.T) {
	server, _, _ := newTestServer(t, ServerConfig{})

	rec := doRequest(server, http.MethodGet, "/v1/events", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing range: status = %d", rec.Code)
	}

	rec = doRequest(server, http.MethodGet,
		"/v1/events?start=2026-03-08T00:00:00Z&end=2026-03-01T00:00:00Z", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("inverted range: status = %d", rec.Code)
	}
}

func TestReadEventsServesCache(t *testing.T) {
	server, _, syncer := newTestServer(t, ServerConfig{})
	rng := testRange()
	if _, err := syncer.Sync(context.Background(), rng); err != nil {
		t.Fatalf("sync: %v", err)
	}

	rec := doRequest(server, http.MethodGet,
		"/v1/events?start=2026-03-01T00:00:00Z&end=2026-03-08T00:00:00Z", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Events []calsync.Event `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Events) != 1 || resp.Events[0].ID != "gcal-1" {
		t.Fatalf("events = %+v", resp.Events)
	}
}

func TestCreateManualEvent(t *testing.T) {
	server, store, _ := newTestServer(t, ServerConfig{})

	body := `{"title":"Lunch","startTime":"2026-03-02T12:00:00Z","endTime":"2026-03-02T13:00:00Z"}`
	rec := doRequest(server, http.MethodPost, "/v1/events", body, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var created calsync.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("no server-assigned ID")
	}
	if created.Source != calsync.SourceManual || !created.TrustedSource {
		t.Fatalf("created = %+v", created)
	}
	if _, err := store.Get(created.Key()); err != nil {
		t.Fatalf("not in store: %v", err)
	}
}

func TestCreateManualEventSchemaViolation(t *testing.T) {
	server, _, _ := newTestServer(t, ServerConfig{})

	rec := doRequest(server, http.MethodPost, "/v1/events",
		`{"startTime":"2026-03-02T12:00:00Z","endTime":"2026-03-02T13:00:00Z"}`, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "schema_violation") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestPatchEventRules(t *testing.T) {
	server, _, syncer := newTestServer(t, ServerConfig{})
	if _, err := syncer.Sync(context.Background(), testRange()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	// Notes are the editable overlay on a synced event.
	rec := doRequest(server, http.MethodPatch, "/v1/events/remote-calendar/gcal-1",
		`{"notes":["ran long"]}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("notes patch: status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(server, http.MethodPatch, "/v1/events/remote-calendar/gcal-1",
		`{"title":"Renamed"}`, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("title patch: status = %d", rec.Code)
	}

	rec = doRequest(server, http.MethodPatch, "/v1/events/remote-calendar/ghost",
		`{"notes":["x"]}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown id: status = %d", rec.Code)
	}

	rec = doRequest(server, http.MethodPatch, "/v1/events/unknown-source/gcal-1",
		`{"notes":["x"]}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad source: status = %d", rec.Code)
	}

	rec = doRequest(server, http.MethodPatch, "/v1/events/remote-calendar/gcal-1", `{}`, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("empty patch: status = %d", rec.Code)
	}
}

func TestDeleteManualEvent(t *testing.T) {
	server, store, _ := newTestServer(t, ServerConfig{})
	created, err := store.PutManualEvent(calsync.Event{
		ID:        "m1",
		Title:     "Lunch",
		StartTime: testRange().Start.Add(12 * time.Hour),
		EndTime:   testRange().Start.Add(13 * time.Hour),
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	rec := doRequest(server, http.MethodDelete, "/v1/events/manual/"+created.ID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	rec = doRequest(server, http.MethodDelete, "/v1/events/manual/"+created.ID, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: status = %d", rec.Code)
	}
}

func TestTriggerSyncAndStatus(t *testing.T) {
	server, _, _ := newTestServer(t, ServerConfig{})

	rec := doRequest(server, http.MethodPost, "/v1/sync",
		`{"start":"2026-03-01T00:00:00Z","end":"2026-03-08T00:00:00Z"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sync: status = %d: %s", rec.Code, rec.Body.String())
	}
	var result calsync.SyncResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Committed != 1 {
		t.Fatalf("Committed = %d, want 1", result.Committed)
	}

	rec = doRequest(server, http.MethodGet, "/v1/sync/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var status struct {
		State      calsync.SyncState            `json:"state"`
		Active     []calsync.ActiveSync         `json:"active"`
		LastSynced map[calsync.Source]time.Time `json:"lastSynced"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.State != calsync.SyncStateIdle {
		t.Fatalf("state = %s", status.State)
	}
	if len(status.Active) != 0 {
		t.Fatalf("active = %v with no cycle running", status.Active)
	}
	if _, ok := status.LastSynced[calsync.SourceRemoteCalendar]; !ok {
		t.Fatalf("lastSynced = %v", status.LastSynced)
	}
}

func TestTriggerSyncRejectsInvalidRange(t *testing.T) {
	server, _, _ := newTestServer(t, ServerConfig{})
	rec := doRequest(server, http.MethodPost, "/v1/sync", `{}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestWriteTokenGuardsMutations(t *testing.T) {
	server, _, _ := newTestServer(t, ServerConfig{WriteToken: "secret"})

	// Reads stay open.
	rec := doRequest(server, http.MethodGet,
		"/v1/events?start=2026-03-01T00:00:00Z&end=2026-03-08T00:00:00Z", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("read with auth enabled: status = %d", rec.Code)
	}

	body := `{"start":"2026-03-01T00:00:00Z","end":"2026-03-08T00:00:00Z"}`
	rec = doRequest(server, http.MethodPost, "/v1/sync", body, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", rec.Code)
	}

	rec = doRequest(server, http.MethodPost, "/v1/sync", body,
		map[string]string{"Authorization": "Bearer wrong"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("wrong token: status = %d", rec.Code)
	}

	rec = doRequest(server, http.MethodPost, "/v1/sync", body,
		map[string]string{"Authorization": "Bearer secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("correct token: status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUnknownRoute(t *testing.T) {
	server, _, _ := newTestServer(t, ServerConfig{})
	rec := doRequest(server, http.MethodGet, "/v1/nope", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDashboardServesHTML(t *testing.T) {
	server, _, _ := newTestServer(t, ServerConfig{})
	rec := doRequest(server, http.MethodGet, "/", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("Content-Type = %q", ct)
	}
}

func TestSyncWatchStreamsResults(t *testing.T) {
	server, _, syncer := newTestServer(t, ServerConfig{})
	srv := httptest.NewServer(server)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/sync/watch"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	// Give the handler a moment to register its subscription before the
	// cycle completes.
	time.Sleep(50 * time.Millisecond)
	if _, err := syncer.Sync(ctx, testRange()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	var result calsync.SyncResult
	if err := wsjson.Read(ctx, conn, &result); err != nil {
		t.Fatalf("read: %v", err)
	}
	if result.Committed != 1 {
		t.Fatalf("Committed = %d, want 1", result.Committed)
	}
}
