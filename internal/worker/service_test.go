package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"flighthunter/internal/alert"
	"flighthunter/internal/model"
	"flighthunter/internal/pkg/notifyqueue"
	"flighthunter/internal/pkg/queue"
	"flighthunter/internal/pkg/redisqueue"
	"flighthunter/internal/tracker"
)

type fakeSource struct {
	mu    sync.Mutex
	reqs  []*redisqueue.CheckRequest
	acked []uint
}

func (f *fakeSource) PopCheck(ctx context.Context, timeout time.Duration) (*redisqueue.CheckRequest, error) {
	f.mu.Lock()
	if len(f.reqs) > 0 {
		req := f.reqs[0]
		f.reqs = f.reqs[1:]
		f.mu.Unlock()
		return req, nil
	}
	f.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
		return nil, redisqueue.ErrNoCheck
	}
}

func (f *fakeSource) AckCheck(ctx context.Context, req *redisqueue.CheckRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, req.TrackerID)
	return nil
}

func (f *fakeSource) ackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.acked)
}

type fakeChecker struct {
	mu      sync.Mutex
	checked []uint
	fail    map[uint]error
	skip    map[uint]bool
}

func (f *fakeChecker) CheckTracker(ctx context.Context, id uint) (*tracker.Result, error) {
	f.mu.Lock()
	f.checked = append(f.checked, id)
	f.mu.Unlock()
	if err := f.fail[id]; err != nil {
		return nil, err
	}
	res := &tracker.Result{TrackerID: id, Tracker: &model.Tracker{ID: id, NotifyEnabled: true}}
	if f.skip[id] {
		res.Skipped = true
		res.SkipReason = "status PAUSED"
		return res, nil
	}
	res.Persisted = 3
	res.Report = &alert.Report{TrackerID: id}
	return res, nil
}

type fakeDispatcher struct {
	mu  sync.Mutex
	ids []uint
	err error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, res *tracker.Result) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	f.ids = append(f.ids, res.TrackerID)
	return true, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStartWorker_ProcessesAndAcks(t *testing.T) {
	src := &fakeSource{reqs: []*redisqueue.CheckRequest{
		redisqueue.NewCheckRequest(1, redisqueue.ReasonSchedule),
		redisqueue.NewCheckRequest(2, redisqueue.ReasonManual),
		redisqueue.NewCheckRequest(3, redisqueue.ReasonSchedule),
	}}
	checker := &fakeChecker{
		fail: map[uint]error{2: errors.New("db down")},
		skip: map[uint]bool{3: true},
	}
	disp := &fakeDispatcher{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := queue.NewQueue(nil, 2, 4, time.Second)
	pool.Start(ctx)

	svc := NewService(src, checker, disp, pool, nil)
	done := make(chan error, 1)
	go func() { done <- svc.StartWorker(ctx) }()

	waitFor(t, func() bool { return src.ackCount() == 3 })
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}

	stats := svc.Stats()
	if stats.Received != 3 || stats.Checked != 2 || stats.Failed != 1 || stats.Notified != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(disp.ids) != 1 || disp.ids[0] != 1 {
		t.Fatalf("expected only tracker 1 dispatched, got %v", disp.ids)
	}
}

type blockingPool struct{ err error }

func (p blockingPool) SubmitWait(ctx context.Context, task queue.Task) error { return p.err }

func TestStartWorker_AcksDuplicateInFlight(t *testing.T) {
	src := &fakeSource{reqs: []*redisqueue.CheckRequest{redisqueue.NewCheckRequest(9, redisqueue.ReasonManual)}}
	svc := NewService(src, &fakeChecker{}, nil, blockingPool{err: queue.ErrInFlight}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.StartWorker(ctx) }()

	waitFor(t, func() bool { return src.ackCount() == 1 })
	cancel()
	<-done
	if svc.Stats().Duplicate != 1 {
		t.Fatalf("expected duplicate counted, got %+v", svc.Stats())
	}
}

func TestStartWorker_ClosedPoolLeavesRequest(t *testing.T) {
	src := &fakeSource{reqs: []*redisqueue.CheckRequest{redisqueue.NewCheckRequest(4, redisqueue.ReasonSchedule)}}
	svc := NewService(src, &fakeChecker{}, nil, blockingPool{err: queue.ErrClosed}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.StartWorker(ctx) }()

	waitFor(t, func() bool { return svc.Stats().Received == 1 })
	cancel()
	<-done
	if n := src.ackCount(); n != 0 {
		t.Fatalf("request should stay in processing queue, acked %d", n)
	}
}

func TestProcess_DispatchErrorIsNotCheckFailure(t *testing.T) {
	svc := NewService(&fakeSource{}, &fakeChecker{}, &fakeDispatcher{err: errors.New("stream unavailable")}, nil, nil)
	if err := svc.Process(context.Background(), redisqueue.NewCheckRequest(5, redisqueue.ReasonManual)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if s := svc.Stats(); s.Checked != 1 || s.Notified != 0 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

type recordingNotifier struct {
	to     string
	report alert.Report
}

func (r *recordingNotifier) Send(ctx context.Context, report alert.Report, to string) error {
	r.to, r.report = to, report
	return nil
}

func TestNotifyHandler(t *testing.T) {
	n := &recordingNotifier{}
	msg := notifyqueue.NewMessage("owner@example.com", alert.Report{TrackerID: 11, TrackerName: "Summer"})
	if err := NotifyHandler(n)(context.Background(), msg); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if n.to != "owner@example.com" || n.report.TrackerID != 11 {
		t.Fatalf("unexpected delivery: %+v", n)
	}
}
