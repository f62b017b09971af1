package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"flighthunter/internal/model"
	"flighthunter/internal/pkg/redisqueue"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var now = time.Date(2026, 6, 10, 8, 0, 0, 0, time.UTC)

type fakeSource struct {
	trackers []model.Tracker
	expired  []uint
	cutoff   time.Time
	purged   int64
}

func (f *fakeSource) ListSchedulable(_ context.Context, afterID uint, limit int) ([]model.Tracker, error) {
	sort.Slice(f.trackers, func(i, j int) bool { return f.trackers[i].ID < f.trackers[j].ID })
	var out []model.Tracker
	for _, t := range f.trackers {
		if t.ID <= afterID || !t.Checkable() {
			continue
		}
		out = append(out, t)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSource) UpdateTrackerStatus(_ context.Context, id uint, status model.TrackerStatus, _ *time.Time, _ string) error {
	for i := range f.trackers {
		if f.trackers[i].ID == id {
			f.trackers[i].Status = status
		}
	}
	if status == model.StatusExpired {
		f.expired = append(f.expired, id)
	}
	return nil
}

func (f *fakeSource) PurgeObservationsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.purged, nil
}

func tracker(id uint, cadence string, last *time.Time) model.Tracker {
	return model.Tracker{
		ID:            id,
		Status:        model.StatusActive,
		Cadence:       cadence,
		WindowStart:   time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		WindowEnd:     time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC),
		LastCheckedAt: last,
	}
}

func at(t time.Time) *time.Time { return &t }

func newQueue(t *testing.T) *redisqueue.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	q, err := redisqueue.NewClientWithRedis(rdb)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return q
}

func newScheduler(src TrackerSource, q CheckQueue, opts Options) *Scheduler {
	opts.Clock = func() time.Time { return now }
	return NewScheduler(src, q, slog.New(slog.NewTextHandler(io.Discard, nil)), opts)
}

func TestDue(t *testing.T) {
	cases := []struct {
		name string
		t    model.Tracker
		want bool
	}{
		{"never checked", tracker(1, "DAILY", nil), true},
		{"daily checked today after 07:00", tracker(1, "DAILY", at(now.Add(-30*time.Minute))), false},
		{"daily checked yesterday", tracker(1, "DAILY", at(now.Add(-20*time.Hour))), true},
		{"hourly checked 30m ago", tracker(1, "HOURLY", at(now.Add(-30*time.Minute))), true},
		{"hourly checked on the hour", tracker(1, "HOURLY", at(now)), false},
		{"weekly checked two days ago", tracker(1, "WEEKLY", at(now.Add(-48*time.Hour))), false},
		{"custom cron", tracker(1, "*/15 * * * *", at(now.Add(-16*time.Minute))), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Due(&tc.t, now); got != tc.want {
				t.Fatalf("Due = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDispatchDue(t *testing.T) {
	paused := tracker(3, "DAILY", nil)
	paused.Status = model.StatusPaused
	elapsed := tracker(4, "DAILY", nil)
	elapsed.WindowEnd = now.AddDate(0, 0, -1)
	errored := tracker(5, "DAILY", nil)
	errored.Status = model.StatusError

	src := &fakeSource{trackers: []model.Tracker{
		tracker(1, "DAILY", nil),
		tracker(2, "DAILY", at(now.Add(-10*time.Minute))),
		paused,
		elapsed,
		errored,
	}}
	q := newQueue(t)
	s := newScheduler(src, q, Options{BatchSize: 2})

	if pushed := s.DispatchDue(context.Background()); pushed != 2 {
		t.Fatalf("expected 2 pushed, got %d", pushed)
	}
	if len(src.expired) != 1 || src.expired[0] != 4 {
		t.Fatalf("expected tracker 4 expired, got %v", src.expired)
	}

	// 未被 worker 确认前不会重复入队。
	if pushed := s.DispatchDue(context.Background()); pushed != 0 {
		t.Fatalf("expected no duplicates, got %d", pushed)
	}

	ctx := context.Background()
	var ids []uint
	for {
		req, err := q.PopCheck(ctx, 10*time.Millisecond)
		if err != nil {
			break
		}
		ids = append(ids, req.TrackerID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 5 {
		t.Fatalf("unexpected queued trackers: %v", ids)
	}
}

func TestRunJanitor_Retention(t *testing.T) {
	src := &fakeSource{purged: 3}
	s := newScheduler(src, newQueue(t), Options{RetentionDays: 180})
	s.RunJanitor(context.Background())

	want := now.AddDate(0, 0, -180)
	if !src.cutoff.Equal(want) {
		t.Fatalf("cutoff = %v, want %v", src.cutoff, want)
	}

	disabled := &fakeSource{}
	newScheduler(disabled, newQueue(t), Options{}).RunJanitor(context.Background())
	if !disabled.cutoff.IsZero() {
		t.Fatalf("retention disabled must not purge")
	}
	negative := &fakeSource{}
	newScheduler(negative, newQueue(t), Options{RetentionDays: -1}).RunJanitor(context.Background())
	if !negative.cutoff.IsZero() {
		t.Fatalf("negative retention must not purge")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	src := &fakeSource{trackers: []model.Tracker{tracker(1, "DAILY", nil)}}
	q := newQueue(t)
	s := newScheduler(src, q, Options{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := q.PendingSetSize(context.Background()); n == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("scheduler did not stop")
	}
	if n, _ := q.PendingSetSize(context.Background()); n != 1 {
		t.Fatalf("expected tracker queued once, got %d", n)
	}
}
