package feed

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"PriceSentinel/internal/domain/models"
	"PriceSentinel/internal/service/quoteapi"
	applogger "PriceSentinel/pkg/logger"
)

// BackoffError is broadcast to every registered error callback when a poll
// cycle aborts on upstream throttling. Delay is how long polling pauses.
type BackoffError struct {
	Delay time.Duration
	Cause error
}

func (e *BackoffError) Error() string {
	return fmt.Sprintf("feed backing off for %s: %v", e.Delay, e.Cause)
}

func (e *BackoffError) Unwrap() error { return e.Cause }

type fetchResult struct {
	symbol string
	quote  models.Quote
	err    error
}

// startCycle launches one poll cycle unless one is already running. An
// overlapping trigger is dropped, not queued.
func (s *Service) startCycle() {
	s.mu.Lock()
	if s.inFlight || len(s.subs) == 0 {
		s.mu.Unlock()
		return
	}
	s.inFlight = true
	symbols := make([]string, 0, len(s.subs))
	for sym := range s.subs {
		symbols = append(symbols, sym)
	}
	s.mu.Unlock()

	sort.Strings(symbols)
	go s.pollCycle(symbols)
}

// pollCycle fetches every watched symbol in batches. Symbols within a batch
// are fetched concurrently; successive batches are separated by batchDelay.
// The first rate-limit error aborts the cycle and escalates into backoff.
func (s *Service) pollCycle(symbols []string) {
	started := time.Now()
	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
		s.metrics.RecordLatency("poll_cycle", time.Since(started).Seconds())
	}()

	clean := true
	for i := 0; i < len(symbols); i += s.batchSize {
		if i > 0 {
			select {
			case <-time.After(s.batchDelay):
			case <-s.ctx.Done():
				return
			}
		}
		end := i + s.batchSize
		if end > len(symbols) {
			end = len(symbols)
		}

		var rateLimited error
		for _, r := range s.fetchBatch(symbols[i:end]) {
			switch {
			case r.err == nil:
				s.metrics.RecordLastPrice(r.symbol, r.quote.Price)
				s.dispatchPrice(r.symbol, r.quote)
			case quoteapi.IsRateLimit(r.err):
				clean = false
				if rateLimited == nil {
					rateLimited = r.err
				}
			default:
				clean = false
				s.metrics.RecordFetchError("fetch")
				s.dispatchError(r.symbol, r.err)
			}
		}
		if rateLimited != nil {
			s.metrics.RecordFetchError("rate_limit")
			s.metrics.RecordPollCycle("rate_limited")
			s.escalateBackoff(rateLimited)
			return
		}
	}

	if clean {
		s.mu.Lock()
		s.backoff.current = s.backoff.min
		s.mu.Unlock()
		s.metrics.RecordPollCycle("ok")
	} else {
		s.metrics.RecordPollCycle("partial")
	}
}

func (s *Service) fetchBatch(symbols []string) []fetchResult {
	results := make([]fetchResult, len(symbols))
	var wg sync.WaitGroup
	for i, sym := range symbols {
		wg.Add(1)
		go func(i int, sym string) {
			defer wg.Done()
			q, err := s.fetcher.Quote(s.ctx, sym)
			results[i] = fetchResult{symbol: sym, quote: q, err: err}
		}(i, sym)
	}
	wg.Wait()
	return results
}

// escalateBackoff doubles the current delay up to the cap, notifies every
// subscriber, and asks the actor to swap the recurring ticker for a one-shot
// retry timer.
func (s *Service) escalateBackoff(cause error) {
	delay := s.advanceBackoff()
	s.metrics.RecordBackoffDelay(delay.Seconds())
	if s.logger != nil {
		s.logger.Warn("feed rate limited, backing off",
			applogger.Duration("delay_ms", delay),
			applogger.Error(cause),
		)
	}
	s.broadcastError(&BackoffError{Delay: delay, Cause: cause})
	s.send(command{kind: cmdBackoff, delay: delay})
}

func (s *Service) advanceBackoff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backoff.current *= 2
	if s.backoff.current > s.backoff.max {
		s.backoff.current = s.backoff.max
	}
	return s.backoff.current
}

// dispatchPrice delivers a quote to the symbol's subscribers. The registry
// snapshot is taken under the lock; callbacks run outside it.
func (s *Service) dispatchPrice(symbol string, q models.Quote) {
	s.mu.Lock()
	list := append([]*Subscription(nil), s.subs[symbol]...)
	s.mu.Unlock()
	for _, sub := range list {
		if sub.onPrice != nil {
			s.safeCall(sub.id, func() { sub.onPrice(q) })
		}
	}
}

// dispatchError delivers a per-symbol fetch failure to that symbol's error
// callbacks only.
func (s *Service) dispatchError(symbol string, err error) {
	s.mu.Lock()
	list := append([]*Subscription(nil), s.subs[symbol]...)
	s.mu.Unlock()
	for _, sub := range list {
		if sub.onError != nil {
			s.safeCall(sub.id, func() { sub.onError(err) })
		}
	}
}

// broadcastError delivers an error to every error callback across all symbols.
func (s *Service) broadcastError(err error) {
	s.mu.Lock()
	var list []*Subscription
	for _, subs := range s.subs {
		list = append(list, subs...)
	}
	s.mu.Unlock()
	for _, sub := range list {
		if sub.onError != nil {
			s.safeCall(sub.id, func() { sub.onError(err) })
		}
	}
}

// safeCall isolates subscriber panics so one bad callback cannot take down
// the poll cycle or starve other subscribers.
func (s *Service) safeCall(subID string, fn func()) {
	defer func() {
		if r := recover(); r != nil && s.logger != nil {
			s.logger.Error("subscriber callback panicked",
				applogger.String("subscription", subID),
				applogger.Any("panic", r),
			)
		}
	}()
	fn()
}

// noopMetrics is the default recorder when none is configured.
type noopMetrics struct{}

func (noopMetrics) RecordPollCycle(string)        {}
func (noopMetrics) RecordFetchError(string)       {}
func (noopMetrics) RecordLastPrice(string, float64) {}
func (noopMetrics) RecordVerdict(string, bool)    {}
func (noopMetrics) RecordBackoffDelay(float64)    {}
func (noopMetrics) RecordLatency(string, float64) {}
