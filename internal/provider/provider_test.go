package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"flighthunter/internal/config"
	"flighthunter/internal/model"
	"flighthunter/internal/search"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func julyRequest(departures ...string) search.Request {
	return search.Request{
		TrackerID:    7,
		Departures:   departures,
		Destinations: []string{"JFK"},
		WindowStart:  time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		WindowEnd:    time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC),
		TripDays:     14,
		Flexibility:  model.FlexExact,
		Cabin:        model.CabinEconomy,
		Luggage:      model.LuggageChecked,
		Passengers:   1,
		Now:          time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

const tequilaBody = `{
  "currency": "USD",
  "data": [
    {
      "flyFrom": "FRA", "flyTo": "JFK", "price": 500, "airlines": ["LH"],
      "deep_link": "https://kiwi.example/1",
      "local_departure": "2026-07-01T10:30:00.000Z",
      "duration": {"departure": 32400, "return": 30600, "total": 63000},
      "route": [
        {"flyFrom": "FRA", "flyTo": "JFK", "airline": "LH", "local_departure": "2026-07-01T10:30:00.000Z", "return": 0},
        {"flyFrom": "JFK", "flyTo": "FRA", "airline": "LH", "local_departure": "2026-07-15T18:00:00.000Z", "return": 1}
      ]
    },
    {
      "flyFrom": "FRA", "flyTo": "JFK", "price": 300, "airlines": ["UA"],
      "local_departure": "2026-07-01T08:00:00.000Z",
      "duration": {"total": 70000},
      "route": [
        {"local_departure": "2026-07-01T08:00:00.000Z", "return": 0},
        {"local_departure": "2026-07-20T09:00:00.000Z", "return": 1}
      ]
    }
  ]
}`

func TestTequila_SearchConvertsAndFilters(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("apikey") != "k" {
			t.Errorf("missing apikey header")
		}
		gotQuery = r.URL.RawQuery
		_, _ = io.WriteString(w, tequilaBody)
	}))
	defer srv.Close()

	p := NewTequila(TequilaConfig{BaseURL: srv.URL + "/", APIKey: "k"}, srv.Client(), nil, testLogger())
	offers, err := p.Search(context.Background(), julyRequest("FRA"))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(offers) != 1 {
		t.Fatalf("expected 1 offer inside the date set, got %d", len(offers))
	}
	o := offers[0]
	if o.Price != 460 || o.Currency != "EUR" {
		t.Fatalf("expected 460 EUR, got %.2f %s", o.Price, o.Currency)
	}
	if o.DurationMinutes != 1050 || o.Stops != 0 || o.Airline != "LH" {
		t.Fatalf("unexpected offer: %+v", o)
	}
	if !o.ReturnDate.Equal(time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected return date: %s", o.ReturnDate)
	}
	if !o.LuggageIncluded || o.Source != "tequila" {
		t.Fatalf("unexpected luggage/source: %+v", o)
	}
	for _, want := range []string{"fly_from=FRA", "date_from=01%2F07%2F2026", "date_to=17%2F07%2F2026", "nights_in_dst_from=14", "adult_hold_bag=1", "curr=EUR"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
}

type countingLimiter struct{ n atomic.Int32 }

func (l *countingLimiter) Acquire(context.Context) error {
	l.n.Add(1)
	return nil
}

func TestTequila_ChunksAndToleratesPartialFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if strings.Contains(r.URL.Query().Get("fly_from"), "HHN") {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, `{"error":"upstream"}`)
			return
		}
		_, _ = io.WriteString(w, tequilaBody)
	}))
	defer srv.Close()

	limiter := &countingLimiter{}
	p := NewTequila(TequilaConfig{BaseURL: srv.URL, APIKey: "k", MaxCodesPerCall: 2}, srv.Client(), limiter, testLogger())
	offers, err := p.Search(context.Background(), julyRequest("FRA", "MUC", "HHN"))
	if err != nil {
		t.Fatalf("partial failure must not fail the search: %v", err)
	}
	if calls.Load() != 2 || limiter.n.Load() != 2 {
		t.Fatalf("expected 2 chunked calls, got %d (limiter %d)", calls.Load(), limiter.n.Load())
	}
	if len(offers) != 1 {
		t.Fatalf("expected offers from the healthy chunk, got %d", len(offers))
	}
}

func TestTequila_AllChunksFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewTequila(TequilaConfig{BaseURL: srv.URL, APIKey: "bad"}, srv.Client(), nil, testLogger())
	_, err := p.Search(context.Background(), julyRequest("FRA"))
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if perr.Provider != "tequila" || perr.Op != "search" {
		t.Fatalf("unexpected error fields: %+v", perr)
	}
}

func TestTequila_NoDatePairsSkipsCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected")
	}))
	defer srv.Close()

	req := julyRequest("FRA")
	req.Now = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	p := NewTequila(TequilaConfig{BaseURL: srv.URL, APIKey: "k"}, srv.Client(), nil, testLogger())
	offers, err := p.Search(context.Background(), req)
	if err != nil || offers != nil {
		t.Fatalf("expected empty result, got %v %v", offers, err)
	}
}

func TestSynthetic_DeterministicAndCapped(t *testing.T) {
	s := NewSynthetic(nil, 0)
	req := julyRequest("FRA", "HHN")

	a, err := s.Search(context.Background(), req)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	b, _ := s.Search(context.Background(), req)
	if len(a) != 2*len(req.DatePairs()) {
		t.Fatalf("expected one offer per route and date pair, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("offer %d differs between runs", i)
		}
		if a[i].Source != "synthetic" || a[i].Price <= 0 {
			t.Fatalf("unexpected offer: %+v", a[i])
		}
		if !strings.HasPrefix(a[i].BookingLink, "https://flighthunter.local/book/") {
			t.Fatalf("unexpected booking link: %s", a[i].BookingLink)
		}
	}

	capped := NewSynthetic(nil, 5)
	c, _ := capped.Search(context.Background(), req)
	if len(c) != 5 {
		t.Fatalf("expected cap of 5, got %d", len(c))
	}
}

func TestSynthetic_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSynthetic(nil, 0).Search(ctx, julyRequest("FRA"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBuild(t *testing.T) {
	noKey := Build(Options{Config: config.ProvidersConfig{}, Logger: testLogger()})
	if names := Names(noKey); len(names) != 1 || names[0] != "synthetic" {
		t.Fatalf("expected synthetic fallback, got %v", names)
	}

	withKey := Build(Options{Config: config.ProvidersConfig{TequilaAPIKey: "k"}, Logger: testLogger()})
	if names := Names(withKey); len(names) != 1 || names[0] != "tequila" {
		t.Fatalf("expected tequila only, got %v", names)
	}

	both := Build(Options{Config: config.ProvidersConfig{TequilaAPIKey: "k", SyntheticEnabled: true}, Logger: testLogger()})
	if names := Names(both); len(names) != 2 {
		t.Fatalf("expected two providers, got %v", names)
	}
}

func TestNormalizePrice(t *testing.T) {
	tests := []struct {
		amount   float64
		currency string
		want     float64
		wantErr  bool
	}{
		{100, "EUR", 100, false},
		{100, "", 100, false},
		{100, "usd", 92, false},
		{33.333, "EUR", 33.33, false},
		{100, "XYZ", 0, true},
	}
	for _, tt := range tests {
		got, err := NormalizePrice(tt.amount, tt.currency)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownCurrency) {
				t.Errorf("%v %s: expected ErrUnknownCurrency, got %v", tt.amount, tt.currency, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("NormalizePrice(%v, %q) = %v, %v; want %v", tt.amount, tt.currency, got, err, tt.want)
		}
	}
}

func TestChunk(t *testing.T) {
	got := chunk([]string{"A", "B", "C", "D", "E"}, 2)
	if len(got) != 3 || len(got[2]) != 1 {
		t.Fatalf("unexpected chunks: %v", got)
	}
	if chunk(nil, 2) != nil {
		t.Fatalf("expected no chunks for empty input")
	}
}
