package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"PriceSentinel/internal/domain/models"
	"PriceSentinel/internal/service/quoteapi"
)

type fakeFetcher struct {
	mu     sync.Mutex
	calls  []fetchCall
	errFor map[string]error
	block  chan struct{}
}

type fetchCall struct {
	symbol string
	at     time.Time
}

func (f *fakeFetcher) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{symbol: symbol, at: time.Now()})
	err := f.errFor[symbol]
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return models.Quote{}, ctx.Err()
		}
	}
	if err != nil {
		return models.Quote{}, err
	}
	return models.Quote{Symbol: symbol, Price: 100, Timestamp: time.Now().Unix()}, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeFetcher) callTime(symbol string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.symbol == symbol {
			return c.at, true
		}
	}
	return time.Time{}, false
}

func (f *fakeFetcher) setErr(symbol string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errFor == nil {
		f.errFor = make(map[string]error)
	}
	f.errFor[symbol] = err
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestSubscribeTriggersImmediatePoll(t *testing.T) {
	f := &fakeFetcher{}
	svc := New(f, WithPollInterval(time.Hour), WithBatching(3, 0))
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop()

	got := make(chan models.Quote, 1)
	svc.Subscribe("btc", func(q models.Quote) { got <- q }, nil)

	select {
	case q := <-got:
		if q.Symbol != "BTC" {
			t.Fatalf("symbol not normalized: %q", q.Symbol)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no immediate poll after first subscribe")
	}
	if svc.State() != StatePolling {
		t.Fatalf("state = %s, want polling", svc.State())
	}
}

func TestOverlappingCycleDropped(t *testing.T) {
	release := make(chan struct{})
	f := &fakeFetcher{block: release}
	svc := New(f, WithPollInterval(time.Hour), WithBatching(3, 0))
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop()

	svc.Subscribe("BTC", nil, nil)
	waitFor(t, 2*time.Second, func() bool { return f.callCount() == 1 })

	// a second trigger while the first cycle is blocked must be dropped
	svc.Subscribe("ETH", nil, nil)
	time.Sleep(50 * time.Millisecond)
	if n := f.callCount(); n != 1 {
		t.Fatalf("overlapping cycle ran, %d calls", n)
	}

	close(release)
	time.Sleep(100 * time.Millisecond)
	// dropped means dropped, not queued
	if n := f.callCount(); n != 1 {
		t.Fatalf("dropped trigger was queued, %d calls", n)
	}
}

func TestBatchesSpacedByDelay(t *testing.T) {
	f := &fakeFetcher{}
	svc := New(f, WithPollInterval(time.Hour), WithBatching(3, 80*time.Millisecond))

	symbols := make([]string, 7)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("S%d", i+1)
		svc.Subscribe(symbols[i], nil, nil)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop()

	waitFor(t, 3*time.Second, func() bool { return f.callCount() == 7 })

	// symbols poll in sorted order, so batches are S1-S3, S4-S6, S7
	t1, _ := f.callTime("S1")
	t4, _ := f.callTime("S4")
	t7, _ := f.callTime("S7")
	if d := t4.Sub(t1); d < 70*time.Millisecond {
		t.Fatalf("second batch started %s after first, want >= 70ms", d)
	}
	if d := t7.Sub(t4); d < 70*time.Millisecond {
		t.Fatalf("third batch started %s after second, want >= 70ms", d)
	}
}

func TestPerSymbolErrorDelivery(t *testing.T) {
	f := &fakeFetcher{}
	f.setErr("BAD", &quoteapi.StatusError{StatusCode: 500, Body: "boom"})

	svc := New(f, WithPollInterval(time.Hour), WithBatching(3, 0))

	badErrs := make(chan error, 1)
	goodErrs := make(chan error, 1)
	goodPrices := make(chan models.Quote, 1)

	svc.Subscribe("BAD", nil, func(err error) { badErrs <- err })
	svc.Subscribe("GOOD", func(q models.Quote) { goodPrices <- q }, func(err error) { goodErrs <- err })

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop()

	select {
	case err := <-badErrs:
		var se *quoteapi.StatusError
		if !errors.As(err, &se) {
			t.Fatalf("error callback got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("failing symbol's error callback never invoked")
	}

	select {
	case <-goodPrices:
	case <-time.After(2 * time.Second):
		t.Fatalf("healthy symbol starved by another symbol's failure")
	}
	select {
	case err := <-goodErrs:
		t.Fatalf("per-symbol failure leaked to other symbol: %v", err)
	default:
	}
}

func TestRateLimitBroadcastsAndBacksOff(t *testing.T) {
	f := &fakeFetcher{}
	f.setErr("BTC", &quoteapi.RateLimitError{})

	svc := New(f,
		WithPollInterval(time.Hour),
		WithBatching(3, 0),
		WithBackoffWindow(40*time.Millisecond, 200*time.Millisecond),
	)
	btcErrs := make(chan error, 4)
	ethErrs := make(chan error, 4)
	svc.Subscribe("ETH", nil, func(err error) { ethErrs <- err })
	svc.Subscribe("BTC", nil, func(err error) { btcErrs <- err })

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop()

	// throttling one symbol notifies every subscriber, not just that symbol's
	for name, ch := range map[string]chan error{"BTC": btcErrs, "ETH": ethErrs} {
		select {
		case err := <-ch:
			var be *BackoffError
			if !errors.As(err, &be) {
				t.Fatalf("%s got %v, want BackoffError", name, err)
			}
			if be.Delay != 80*time.Millisecond {
				t.Fatalf("first backoff delay = %s, want 80ms", be.Delay)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s subscriber missed the backoff broadcast", name)
		}
	}

	waitFor(t, time.Second, func() bool { return svc.State() == StateBackoff })

	// once the upstream recovers, the backoff retry succeeds, polling
	// resumes, and a clean cycle resets the delay
	f.setErr("BTC", nil)
	waitFor(t, 2*time.Second, func() bool { return svc.State() == StatePolling })
	waitFor(t, 2*time.Second, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return svc.backoff.current == 40*time.Millisecond
	})
}

func TestBackoffDoublingCapped(t *testing.T) {
	svc := New(&fakeFetcher{}, WithBackoffWindow(time.Minute, 5*time.Minute))
	want := []time.Duration{
		2 * time.Minute,
		4 * time.Minute,
		5 * time.Minute,
		5 * time.Minute,
	}
	for i, w := range want {
		if got := svc.advanceBackoff(); got != w {
			t.Fatalf("escalation %d = %s, want %s", i+1, got, w)
		}
	}
}

func TestUnsubscribeLastGoesIdle(t *testing.T) {
	f := &fakeFetcher{}
	svc := New(f, WithPollInterval(30*time.Millisecond), WithBatching(3, 0))
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop()

	sub := svc.Subscribe("BTC", nil, nil)
	waitFor(t, 2*time.Second, func() bool { return f.callCount() >= 1 })

	svc.Unsubscribe(sub)
	waitFor(t, time.Second, func() bool { return svc.State() == StateIdle })
	if got := svc.Symbols(); len(got) != 0 {
		t.Fatalf("registry not drained: %v", got)
	}

	n := f.callCount()
	time.Sleep(120 * time.Millisecond)
	if f.callCount() != n {
		t.Fatalf("idle feed kept polling")
	}
}

func TestUnsubscribeByHandle(t *testing.T) {
	f := &fakeFetcher{}
	svc := New(f, WithPollInterval(time.Hour), WithBatching(3, 0))

	var mu sync.Mutex
	var hits int
	cb := func(models.Quote) {
		mu.Lock()
		hits++
		mu.Unlock()
	}

	// same callback registered twice yields two independent subscriptions
	s1 := svc.Subscribe("BTC", cb, nil)
	s2 := svc.Subscribe("BTC", cb, nil)
	if s1 == s2 {
		t.Fatalf("subscriptions must be distinct handles")
	}

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop()

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return hits >= 2
	})

	svc.Unsubscribe(s1)
	if got := svc.Symbols(); len(got) != 1 || got[0] != "BTC" {
		t.Fatalf("removing one handle must keep the other: %v", got)
	}
}

func TestCallbackPanicIsolated(t *testing.T) {
	f := &fakeFetcher{}
	svc := New(f, WithPollInterval(time.Hour), WithBatching(3, 0))

	survived := make(chan models.Quote, 1)
	svc.Subscribe("BTC", func(models.Quote) { panic("bad subscriber") }, nil)
	svc.Subscribe("BTC", func(q models.Quote) { survived <- q }, nil)

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop()

	select {
	case <-survived:
	case <-time.After(2 * time.Second):
		t.Fatalf("panicking subscriber starved the next one")
	}
}

func TestStopCancelsWork(t *testing.T) {
	f := &fakeFetcher{}
	svc := New(f, WithPollInterval(20*time.Millisecond), WithBatching(3, 0))
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	svc.Subscribe("BTC", nil, nil)
	waitFor(t, 2*time.Second, func() bool { return f.callCount() >= 1 })

	svc.Stop()
	time.Sleep(50 * time.Millisecond)
	n := f.callCount()
	time.Sleep(100 * time.Millisecond)
	if f.callCount() != n {
		t.Fatalf("stopped feed kept polling")
	}
}
