package alert

import (
	"context"
	"testing"
	"time"

	"flighthunter/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func ptr(v float64) *float64 { return &v }

func batch(prices ...float64) *model.Batch {
	b := &model.Batch{CheckedAt: time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC)}
	for i, p := range prices {
		b.Observations = append(b.Observations, model.FlightObservation{
			Departure:       "FRA",
			Destination:     "JFK",
			OutboundDate:    time.Date(2026, 7, 1+i, 0, 0, 0, 0, time.UTC),
			ReturnDate:      time.Date(2026, 7, 15+i, 0, 0, 0, 0, time.UTC),
			Price:           p,
			Airline:         "LH",
			DurationMinutes: 540 + i,
			Hash:            string(rune('a' + i)),
		})
	}
	return b
}

func TestEvaluate_AmountThreshold(t *testing.T) {
	tr := &model.Tracker{AlertAmount: ptr(50)}

	d := Evaluate(tr, batch(45, 80), batch(120))
	if !d.Triggered {
		t.Fatalf("expected €45 <= €50 to trigger: %+v", d)
	}
	if d.Threshold != ThresholdAmount || d.AbsoluteChange != -75 {
		t.Fatalf("unexpected decision: %+v", d)
	}

	if d := Evaluate(tr, batch(60), batch(120)); d.Triggered {
		t.Fatalf("expected €60 not to trigger: %+v", d)
	}
	if d := Evaluate(tr, batch(50), nil); !d.Triggered {
		t.Fatalf("amount threshold is inclusive and needs no previous batch")
	}
}

func TestEvaluate_PercentThreshold(t *testing.T) {
	tr := &model.Tracker{AlertPercent: ptr(15)}

	d := Evaluate(tr, batch(160), batch(200, 250))
	if !d.Triggered {
		t.Fatalf("expected 20%% drop to trigger: %+v", d)
	}
	if d.PercentChange != -20 || d.Drop() != 20 {
		t.Fatalf("unexpected percent change: %+v", d)
	}

	if d := Evaluate(tr, batch(190), batch(200)); d.Triggered {
		t.Fatalf("expected 5%% drop not to trigger: %+v", d)
	}
	if d := Evaluate(tr, batch(100), nil); d.Triggered || d.HasPrevious {
		t.Fatalf("percent threshold needs a previous batch: %+v", d)
	}
	if d := Evaluate(tr, batch(100), batch(0)); d.Triggered {
		t.Fatalf("zero previous price must not trigger: %+v", d)
	}
	if d := Evaluate(tr, batch(230), batch(200)); d.Triggered || d.Drop() != 0 {
		t.Fatalf("price increase must not trigger: %+v", d)
	}
}

func TestEvaluate_PercentThresholdUsesUnroundedDrop(t *testing.T) {
	tr := &model.Tracker{AlertPercent: ptr(15)}

	d := Evaluate(tr, batch(170.00008), batch(200))
	if d.Triggered {
		t.Fatalf("14.99996%% drop must not meet a 15%% threshold: %+v", d)
	}
	if d.PercentChange != -15 {
		t.Fatalf("reported change should still be rounded, got %v", d.PercentChange)
	}

	if d := Evaluate(tr, batch(170), batch(200)); !d.Triggered {
		t.Fatalf("exact 15%% drop must trigger: %+v", d)
	}
}

func TestEvaluate_EmptyAndIdempotent(t *testing.T) {
	tr := &model.Tracker{AlertAmount: ptr(1000)}
	if d := Evaluate(tr, batch(), batch(100)); d.Triggered || d.HasNewest {
		t.Fatalf("empty newest batch must not trigger: %+v", d)
	}

	newest, prev := batch(300, 120), batch(150)
	a := Evaluate(tr, newest, prev)
	b := Evaluate(tr, newest, prev)
	if a != b {
		t.Fatalf("evaluation is not idempotent: %+v vs %+v", a, b)
	}

	none := Evaluate(&model.Tracker{}, newest, prev)
	if none.Triggered || none.Threshold != ThresholdNone || none.NewestCheapest != 120 {
		t.Fatalf("unexpected no-threshold decision: %+v", none)
	}
}

func TestCompose(t *testing.T) {
	tr := &model.Tracker{
		ID:           3,
		Name:         "Summer NYC",
		Departures:   model.AirportList{"FRA"},
		Destinations: model.AirportList{"JFK"},
		WindowStart:  time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		WindowEnd:    time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC),
		TripDays:     14,
		Cabin:        model.CabinEconomy,
		Passengers:   1,
	}
	newest := batch(410, 380, 520, 380, 450)
	d := Evaluate(tr, newest, nil)

	r := Compose(tr, newest, d, 2)
	if r.Best == nil || r.Best.Price != 380 || r.Best.DurationMinutes != 541 {
		t.Fatalf("expected cheapest/shortest offer as best, got %+v", r.Best)
	}
	if len(r.Top) != 2 || r.Top[0].Price != 380 || r.Top[1].Price != 410 {
		t.Fatalf("unexpected top list: %+v", r.Top)
	}
	if r.OfferCount != 5 || r.Route != "FRA → JFK" || r.Flexibility != "EXACT" {
		t.Fatalf("unexpected report fields: %+v", r)
	}
	if !r.CheckedAt.Equal(newest.CheckedAt) {
		t.Fatalf("expected batch timestamp on report")
	}

	empty := Compose(tr, batch(), d, 5)
	if !empty.Empty() || empty.Top != nil {
		t.Fatalf("expected empty report, got %+v", empty)
	}
}

func newGuard(t *testing.T) (*Guard, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewGuard(rdb, time.Hour), s
}

func TestGuard_AllowsOnlyLowerPrices(t *testing.T) {
	g, s := newGuard(t)
	ctx := context.Background()

	steps := []struct {
		price float64
		want  bool
	}{
		{45, true},
		{45, false},
		{48, false},
		{44.99, true},
	}
	for _, st := range steps {
		got, err := g.Check(ctx, 9, st.price)
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if got != st.want {
			t.Fatalf("Check(%.2f) = %v, want %v", st.price, got, st.want)
		}
		if got {
			if err := g.Record(ctx, 9, st.price); err != nil {
				t.Fatalf("record: %v", err)
			}
		}
	}

	if ok, _ := g.Check(ctx, 10, 100); !ok {
		t.Fatalf("trackers must not share guard state")
	}

	if err := g.Reset(ctx, 9); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if ok, _ := g.Check(ctx, 9, 60); !ok {
		t.Fatalf("expected alert after reset")
	}
	if err := g.Record(ctx, 9, 60); err != nil {
		t.Fatalf("record: %v", err)
	}

	s.FastForward(2 * time.Hour)
	if ok, _ := g.Check(ctx, 9, 70); !ok {
		t.Fatalf("expected alert after ttl expiry")
	}
}

func TestGuard_CheckDoesNotRecord(t *testing.T) {
	g, _ := newGuard(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, err := g.Check(ctx, 3, 45); err != nil || !ok {
			t.Fatalf("unrecorded price must stay allowed, got %v %v", ok, err)
		}
	}

	if err := g.Record(ctx, 3, 40); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := g.Record(ctx, 3, 50); err != nil {
		t.Fatalf("record: %v", err)
	}
	if ok, _ := g.Check(ctx, 3, 45); ok {
		t.Fatalf("record must only lower the stored price")
	}
}
