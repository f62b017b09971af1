package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"flighthunter/internal/api/middleware"
	"flighthunter/internal/config"
	"flighthunter/internal/model"
	"flighthunter/internal/pkg/redisqueue"
	"flighthunter/internal/store"

	"github.com/gin-gonic/gin"
)

type mockTrackerStore struct {
	trackers     map[uint]*model.Tracker
	batches      []model.Batch
	nextID       uint
	count        int64
	createErr    error
	createCalls  int
	obsLimit     int
	deletedCalls int
}

func newMockStore() *mockTrackerStore {
	return &mockTrackerStore{trackers: map[uint]*model.Tracker{}, nextID: 1}
}

func (m *mockTrackerStore) add(t *model.Tracker) *model.Tracker {
	t.ID = m.nextID
	m.nextID++
	m.trackers[t.ID] = t
	return t
}

func (m *mockTrackerStore) CountTrackers(ctx context.Context, ownerID uint) (int64, error) {
	return m.count, nil
}

func (m *mockTrackerStore) CreateTracker(ctx context.Context, t *model.Tracker) error {
	m.createCalls++
	if m.createErr != nil {
		return m.createErr
	}
	m.add(t)
	return nil
}

func (m *mockTrackerStore) ListTrackers(ctx context.Context, ownerID uint) ([]model.Tracker, error) {
	var out []model.Tracker
	for id := uint(1); id < m.nextID; id++ {
		if t, ok := m.trackers[id]; ok && t.OwnerID == ownerID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *mockTrackerStore) GetTracker(ctx context.Context, ownerID, id uint) (*model.Tracker, error) {
	t, ok := m.trackers[id]
	if !ok || t.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockTrackerStore) SetStatus(ctx context.Context, ownerID, id uint, status model.TrackerStatus) error {
	t, ok := m.trackers[id]
	if !ok || t.OwnerID != ownerID {
		return store.ErrNotFound
	}
	t.Status = status
	return nil
}

func (m *mockTrackerStore) DeleteTracker(ctx context.Context, ownerID, id uint) error {
	t, ok := m.trackers[id]
	if !ok || t.OwnerID != ownerID {
		return store.ErrNotFound
	}
	m.deletedCalls++
	delete(m.trackers, id)
	return nil
}

func (m *mockTrackerStore) ListObservations(ctx context.Context, trackerID uint, limit int) ([]model.FlightObservation, error) {
	m.obsLimit = limit
	var out []model.FlightObservation
	for _, b := range m.batches {
		out = append(out, b.Observations...)
	}
	return out, nil
}

func (m *mockTrackerStore) LoadLatestBatches(ctx context.Context, trackerID uint, n int) ([]model.Batch, error) {
	if len(m.batches) > n {
		return m.batches[:n], nil
	}
	return m.batches, nil
}

type mockCheckQueue struct {
	pushed  []*redisqueue.CheckRequest
	pending map[uint]bool
	removed []uint
}

func (m *mockCheckQueue) PushCheck(ctx context.Context, req *redisqueue.CheckRequest) error {
	if m.pending == nil {
		m.pending = map[uint]bool{}
	}
	if m.pending[req.TrackerID] {
		return redisqueue.ErrCheckExists
	}
	m.pending[req.TrackerID] = true
	m.pushed = append(m.pushed, req)
	return nil
}

func (m *mockCheckQueue) RemoveFromPendingSet(ctx context.Context, trackerID uint) error {
	m.removed = append(m.removed, trackerID)
	delete(m.pending, trackerID)
	return nil
}

type mockDeduper struct {
	seen    map[string]bool
	deleted []string
}

func (m *mockDeduper) IsDuplicate(ctx context.Context, sig string) (bool, error) {
	if m.seen == nil {
		m.seen = map[string]bool{}
	}
	if m.seen[sig] {
		return true, nil
	}
	m.seen[sig] = true
	return false, nil
}

func (m *mockDeduper) Delete(ctx context.Context, sig string) error {
	m.deleted = append(m.deleted, sig)
	delete(m.seen, sig)
	return nil
}

type mockResetter struct{ reset []uint }

func (m *mockResetter) Reset(ctx context.Context, trackerID uint) error {
	m.reset = append(m.reset, trackerID)
	return nil
}

type testEnv struct {
	srv     *Server
	router  *gin.Engine
	store   *mockTrackerStore
	checks  *mockCheckQueue
	deduper *mockDeduper
	alerts  *mockResetter
}

func newTestEnv(userID uint) *testEnv {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		store:   newMockStore(),
		checks:  &mockCheckQueue{},
		deduper: &mockDeduper{},
		alerts:  &mockResetter{},
	}
	env.srv = &Server{
		cfg:      &config.Config{App: config.AppConfig{MaxTrackers: 3, ReportTopN: 2}},
		logger:   logger,
		trackers: env.store,
		checks:   env.checks,
		deduper:  env.deduper,
		alerts:   env.alerts,
	}
	registerValidators(logger)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Next()
	})
	env.srv.registerTrackerRoutes(r)
	env.router = r
	return env
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func validRequest() map[string]any {
	return map[string]any{
		"name":         "Summer in New York",
		"departures":   []string{"fra", "MUC"},
		"destinations": []string{"JFK"},
		"window_start": "2026-07-01",
		"window_end":   "2026-07-31",
		"trip_days":    7,
		"flexibility":  "PLUS_MINUS_1",
	}
}

func sampleTracker(owner uint, status model.TrackerStatus) *model.Tracker {
	return &model.Tracker{
		OwnerID:       owner,
		Name:          "Lisbon",
		Departures:    model.AirportList{"BER"},
		Destinations:  model.AirportList{"LIS"},
		WindowStart:   time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		WindowEnd:     time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
		TripDays:      5,
		Cabin:         model.CabinEconomy,
		Luggage:       model.LuggageNone,
		Passengers:    1,
		Cadence:       "DAILY",
		NotifyEnabled: true,
		Status:        status,
	}
}

func TestCreateTracker_Normal(t *testing.T) {
	env := newTestEnv(1)
	w := env.do(http.MethodPost, "/trackers", validRequest())
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp createTrackerResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.ID != 1 {
		t.Fatalf("unexpected response %s", w.Body.String())
	}

	created := env.store.trackers[1]
	if got := created.Route(); got != "FRA,MUC → JFK" {
		t.Fatalf("unexpected route %q", got)
	}
	if created.Cabin != model.CabinEconomy || created.Luggage != model.LuggageNone || created.Passengers != 1 {
		t.Fatalf("defaults not applied: %+v", created)
	}
	if created.Cadence != "DAILY" || !created.NotifyEnabled || created.Status != model.StatusActive {
		t.Fatalf("unexpected cadence/notify/status: %+v", created)
	}
	if created.Flexibility != model.FlexPlusMinus1 || created.OwnerID != 1 {
		t.Fatalf("unexpected flexibility/owner: %+v", created)
	}
	if len(env.checks.pushed) != 1 || env.checks.pushed[0].Reason != redisqueue.ReasonManual {
		t.Fatalf("expected initial manual check, got %+v", env.checks.pushed)
	}
}

func TestCreateTracker_Invalid(t *testing.T) {
	cases := map[string]func(map[string]any){
		"bad airport":      func(r map[string]any) { r["departures"] = []string{"FR1"} },
		"no destinations":  func(r map[string]any) { r["destinations"] = []string{} },
		"reversed window":  func(r map[string]any) { r["window_end"] = "2026-06-01" },
		"bad date":         func(r map[string]any) { r["window_start"] = "07/01/2026" },
		"zero trip":        func(r map[string]any) { r["trip_days"] = 0 },
		"both thresholds":  func(r map[string]any) { r["alert_percent"] = 10; r["alert_amount"] = 300 },
		"bad cabin":        func(r map[string]any) { r["cabin"] = "ROOFTOP" },
		"bad cadence":      func(r map[string]any) { r["cadence"] = "every now and then" },
		"bad flexibility":  func(r map[string]any) { r["flexibility"] = "PLUS_MINUS_5" },
		"too many seats":   func(r map[string]any) { r["passengers"] = 12 },
		"percent too high": func(r map[string]any) { r["alert_percent"] = 150 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(1)
			req := validRequest()
			mutate(req)
			if w := env.do(http.MethodPost, "/trackers", req); w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			if env.store.createCalls != 0 {
				t.Fatalf("invalid tracker must not be stored")
			}
		})
	}
}

func TestCreateTracker_LimitReached(t *testing.T) {
	env := newTestEnv(1)
	env.store.count = 3
	if w := env.do(http.MethodPost, "/trackers", validRequest()); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestCreateTracker_Deduplicated(t *testing.T) {
	env := newTestEnv(1)
	if w := env.do(http.MethodPost, "/trackers", validRequest()); w.Code != http.StatusCreated {
		t.Fatalf("first create: %d", w.Code)
	}
	w := env.do(http.MethodPost, "/trackers", validRequest())
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "skipped_duplicate") {
		t.Fatalf("expected duplicate skip, got %d %s", w.Code, w.Body.String())
	}
	if env.store.createCalls != 1 {
		t.Fatalf("expected one create, got %d", env.store.createCalls)
	}
}

func TestCreateTracker_StoreFailureReleasesSignature(t *testing.T) {
	env := newTestEnv(1)
	env.store.createErr = errors.New("db down")
	if w := env.do(http.MethodPost, "/trackers", validRequest()); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if len(env.deduper.deleted) != 1 {
		t.Fatalf("expected signature released")
	}

	env.store.createErr = nil
	if w := env.do(http.MethodPost, "/trackers", validRequest()); w.Code != http.StatusCreated {
		t.Fatalf("retry should succeed, got %d", w.Code)
	}
}

func TestTracker_OwnershipAndID(t *testing.T) {
	env := newTestEnv(1)
	env.store.add(sampleTracker(2, model.StatusActive))

	if w := env.do(http.MethodGet, "/trackers/1", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign tracker, got %d", w.Code)
	}
	if w := env.do(http.MethodGet, "/trackers/abc", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", w.Code)
	}
	w := env.do(http.MethodGet, "/trackers", nil)
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %d %s", w.Code, w.Body.String())
	}
}

func TestTracker_PauseResume(t *testing.T) {
	env := newTestEnv(1)
	active := env.store.add(sampleTracker(1, model.StatusActive))
	expired := env.store.add(sampleTracker(1, model.StatusExpired))

	if w := env.do(http.MethodPost, "/trackers/1/pause", nil); w.Code != http.StatusOK {
		t.Fatalf("pause: %d", w.Code)
	}
	if active.Status != model.StatusPaused {
		t.Fatalf("expected paused, got %s", active.Status)
	}
	if w := env.do(http.MethodPost, "/trackers/1/check", nil); w.Code != http.StatusConflict {
		t.Fatalf("paused tracker check should conflict, got %d", w.Code)
	}
	if w := env.do(http.MethodPost, "/trackers/1/resume", nil); w.Code != http.StatusOK {
		t.Fatalf("resume: %d", w.Code)
	}
	if active.Status != model.StatusActive {
		t.Fatalf("expected active, got %s", active.Status)
	}

	if w := env.do(http.MethodPost, "/trackers/2/pause", nil); w.Code != http.StatusConflict {
		t.Fatalf("pausing expired tracker should conflict, got %d", w.Code)
	}
	if w := env.do(http.MethodPost, "/trackers/2/resume", nil); w.Code != http.StatusConflict {
		t.Fatalf("resuming expired tracker should conflict, got %d", w.Code)
	}
	if expired.Status != model.StatusExpired {
		t.Fatalf("expired tracker must stay expired")
	}
}

func TestTracker_ManualCheck(t *testing.T) {
	env := newTestEnv(1)
	env.store.add(sampleTracker(1, model.StatusError))

	w := env.do(http.MethodPost, "/trackers/1/check", nil)
	if w.Code != http.StatusAccepted || !strings.Contains(w.Body.String(), `"queued"`) {
		t.Fatalf("expected queued, got %d %s", w.Code, w.Body.String())
	}
	w = env.do(http.MethodPost, "/trackers/1/check", nil)
	if w.Code != http.StatusAccepted || !strings.Contains(w.Body.String(), "already_queued") {
		t.Fatalf("expected already_queued, got %d %s", w.Code, w.Body.String())
	}
}

func batch(at time.Time, prices ...float64) model.Batch {
	b := model.Batch{CheckedAt: at}
	for i, p := range prices {
		b.Observations = append(b.Observations, model.FlightObservation{
			ID:           uint(i + 1),
			CheckedAt:    at,
			Departure:    "BER",
			Destination:  "LIS",
			OutboundDate: time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC),
			ReturnDate:   time.Date(2026, 8, 8, 0, 0, 0, 0, time.UTC),
			Price:        p,
			Currency:     "EUR",
			Source:       "synthetic",
		})
	}
	return b
}

func TestTracker_ObservationsLimit(t *testing.T) {
	env := newTestEnv(1)
	env.store.add(sampleTracker(1, model.StatusActive))
	env.store.batches = []model.Batch{batch(time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC), 120, 150)}

	w := env.do(http.MethodGet, "/trackers/1/observations", nil)
	if w.Code != http.StatusOK || env.store.obsLimit != defaultObservationLimit {
		t.Fatalf("expected default limit, got %d limit=%d", w.Code, env.store.obsLimit)
	}
	if !strings.Contains(w.Body.String(), `"outbound_date":"2026-08-03"`) {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
	if w := env.do(http.MethodGet, "/trackers/1/observations?limit=5000", nil); w.Code != http.StatusOK || env.store.obsLimit != maxObservationLimit {
		t.Fatalf("expected capped limit, got %d limit=%d", w.Code, env.store.obsLimit)
	}
	if w := env.do(http.MethodGet, "/trackers/1/observations?limit=-1", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative limit, got %d", w.Code)
	}
}

func TestTracker_Report(t *testing.T) {
	env := newTestEnv(1)
	tr := sampleTracker(1, model.StatusActive)
	percent := 10.0
	tr.AlertPercent = &percent
	env.store.add(tr)
	env.store.batches = []model.Batch{
		batch(time.Date(2026, 6, 2, 7, 0, 0, 0, time.UTC), 90, 140, 160, 200),
		batch(time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC), 120, 150),
	}

	w := env.do(http.MethodGet, "/trackers/1/report", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("report: %d", w.Code)
	}
	var report struct {
		Decision struct {
			Triggered        bool    `json:"triggered"`
			NewestCheapest   float64 `json:"newest_cheapest"`
			PreviousCheapest float64 `json:"previous_cheapest"`
		} `json:"decision"`
		Best *model.Offer  `json:"best"`
		Top  []model.Offer `json:"top"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !report.Decision.Triggered || report.Decision.NewestCheapest != 90 || report.Decision.PreviousCheapest != 120 {
		t.Fatalf("unexpected decision %+v", report.Decision)
	}
	if report.Best == nil || report.Best.Price != 90 || len(report.Top) != 2 {
		t.Fatalf("unexpected offers best=%v top=%d", report.Best, len(report.Top))
	}
}

func TestTracker_Delete(t *testing.T) {
	env := newTestEnv(1)
	env.store.add(sampleTracker(1, model.StatusActive))
	env.checks.pending = map[uint]bool{1: true}

	if w := env.do(http.MethodDelete, "/trackers/1", nil); w.Code != http.StatusOK {
		t.Fatalf("delete: %d", w.Code)
	}
	if env.store.deletedCalls != 1 || len(env.alerts.reset) != 1 || len(env.checks.removed) != 1 || len(env.deduper.deleted) != 1 {
		t.Fatalf("cleanup incomplete: store=%d reset=%v removed=%v dedup=%v",
			env.store.deletedCalls, env.alerts.reset, env.checks.removed, env.deduper.deleted)
	}
	if w := env.do(http.MethodDelete, "/trackers/1", nil); w.Code != http.StatusNotFound {
		t.Fatalf("second delete should be 404, got %d", w.Code)
	}
}
