// Package feed implements the shared price subscription service: a registry
// of per-symbol subscribers, batched recurring polling of the quote API, and
// exponential backoff when the upstream throttles.
package feed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"PriceSentinel/internal/domain/models"
	drepo "PriceSentinel/internal/domain/repository"
	applogger "PriceSentinel/pkg/logger"
)

// Fetcher is the slice of the quote client the feed needs.
type Fetcher interface {
	Quote(ctx context.Context, symbol string) (models.Quote, error)
}

type PriceCallback func(models.Quote)

type ErrorCallback func(error)

// Subscription is an opaque handle identifying one registered consumer.
// Removal is by handle, so registering the same callback twice yields two
// independent subscriptions.
type Subscription struct {
	id      string
	symbol  string
	onPrice PriceCallback
	onError ErrorCallback
}

// Symbol returns the normalized symbol this subscription watches.
func (s *Subscription) Symbol() string { return s.symbol }

// State is the feed's polling state.
type State int

const (
	StateIdle State = iota
	StatePolling
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateBackoff:
		return "backoff"
	default:
		return "idle"
	}
}

const (
	defaultPollInterval = time.Minute
	defaultBatchSize    = 3
	defaultBatchDelay   = 2 * time.Second
	defaultMinBackoff   = time.Minute
	defaultMaxBackoff   = 5 * time.Minute
)

type cmdKind int

const (
	cmdActivate cmdKind = iota // ensure polling is armed, run one immediate cycle
	cmdIdle                    // registry drained, cancel all timers
	cmdBackoff                 // disarm polling, arm one-shot retry
)

type command struct {
	kind  cmdKind
	delay time.Duration
}

// Service owns the subscriber registry and the polling schedule. Construct
// with New, then Start/Stop; there is no package-level instance.
type Service struct {
	fetcher Fetcher
	logger  *applogger.Logger
	metrics drepo.Metrics

	pollInterval time.Duration
	batchSize    int
	batchDelay   time.Duration

	mu       sync.Mutex
	subs     map[string][]*Subscription
	state    State
	inFlight bool
	running  bool
	backoff  backoffState

	cmdCh  chan command
	ctx    context.Context
	cancel context.CancelFunc
}

type backoffState struct {
	current time.Duration
	min     time.Duration
	max     time.Duration
}

type Option func(*Service)

// WithPollInterval sets the recurring poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithBatching sets the per-cycle batch size and the delay before each batch
// after the first.
func WithBatching(size int, delay time.Duration) Option {
	return func(s *Service) {
		if size > 0 {
			s.batchSize = size
		}
		if delay >= 0 {
			s.batchDelay = delay
		}
	}
}

// WithBackoffWindow sets the minimum (initial) and maximum backoff delays.
func WithBackoffWindow(min, max time.Duration) Option {
	return func(s *Service) {
		if min > 0 {
			s.backoff.min = min
			s.backoff.current = min
		}
		if max > 0 {
			s.backoff.max = max
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m drepo.Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l *applogger.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a feed service around the given fetcher.
func New(fetcher Fetcher, opts ...Option) *Service {
	s := &Service{
		fetcher:      fetcher,
		metrics:      noopMetrics{},
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		batchDelay:   defaultBatchDelay,
		subs:         make(map[string][]*Subscription),
		backoff: backoffState{
			current: defaultMinBackoff,
			min:     defaultMinBackoff,
			max:     defaultMaxBackoff,
		},
		cmdCh: make(chan command, 32),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the polling actor. Polling begins once at least one
// subscription exists.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("feed already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	hasSubs := len(s.subs) > 0
	s.mu.Unlock()

	go s.run()
	if hasSubs {
		s.send(command{kind: cmdActivate})
	}
	return nil
}

// Stop cancels all timers and in-flight work. Registered subscriptions are
// kept; a later Start resumes polling for them.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()
	cancel()
}

// State reports the current polling state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers callbacks for a symbol and returns the handle used to
// unsubscribe. The symbol's first subscriber triggers an immediate out-of-band
// poll cycle; the call itself never blocks on network I/O.
func (s *Service) Subscribe(symbol string, onPrice PriceCallback, onError ErrorCallback) *Subscription {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	sub := &Subscription{
		id:      uuid.NewString(),
		symbol:  symbol,
		onPrice: onPrice,
		onError: onError,
	}

	s.mu.Lock()
	first := len(s.subs[symbol]) == 0
	s.subs[symbol] = append(s.subs[symbol], sub)
	running := s.running
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Debug("feed subscribe",
			applogger.String("symbol", symbol),
			applogger.String("subscription", sub.id),
		)
	}
	if first && running {
		s.send(command{kind: cmdActivate})
	}
	return sub
}

// Unsubscribe removes a subscription by handle. Removing a symbol's last
// subscription deletes its registry entry; draining the registry cancels all
// timers and the feed goes idle.
func (s *Service) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	s.mu.Lock()
	list := s.subs[sub.symbol]
	for i, x := range list {
		if x.id == sub.id {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.subs, sub.symbol)
	} else {
		s.subs[sub.symbol] = list
	}
	empty := len(s.subs) == 0
	running := s.running
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Debug("feed unsubscribe",
			applogger.String("symbol", sub.symbol),
			applogger.String("subscription", sub.id),
		)
	}
	if empty && running {
		s.send(command{kind: cmdIdle})
	}
}

// Symbols returns the currently watched symbols.
func (s *Service) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subs))
	for sym := range s.subs {
		out = append(out, sym)
	}
	return out
}

func (s *Service) send(cmd command) {
	select {
	case s.cmdCh <- cmd:
	case <-s.ctx.Done():
	}
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// run is the polling actor. It is the only goroutine that arms or cancels
// timers, so the recurring ticker and the backoff timer can never be armed at
// the same time.
func (s *Service) run() {
	var (
		ticker       *time.Ticker
		tickCh       <-chan time.Time
		backoffTimer *time.Timer
		backoffCh    <-chan time.Time
	)

	stopPolling := func() {
		if ticker != nil {
			ticker.Stop()
			ticker = nil
			tickCh = nil
		}
	}
	stopBackoff := func() {
		if backoffTimer != nil {
			backoffTimer.Stop()
			backoffTimer = nil
			backoffCh = nil
		}
	}
	armPolling := func() {
		stopBackoff()
		if ticker == nil {
			ticker = time.NewTicker(s.pollInterval)
			tickCh = ticker.C
		}
		s.setState(StatePolling)
	}
	armBackoff := func(d time.Duration) {
		stopPolling()
		stopBackoff()
		backoffTimer = time.NewTimer(d)
		backoffCh = backoffTimer.C
		s.setState(StateBackoff)
	}
	goIdle := func() {
		stopPolling()
		stopBackoff()
		s.setState(StateIdle)
	}

	for {
		select {
		case <-s.ctx.Done():
			goIdle()
			return

		case cmd := <-s.cmdCh:
			switch cmd.kind {
			case cmdActivate:
				// a subscribe during backoff must not cut the backoff short
				if backoffCh == nil {
					armPolling()
				}
				s.startCycle()
			case cmdIdle:
				s.mu.Lock()
				empty := len(s.subs) == 0
				s.mu.Unlock()
				if empty {
					goIdle()
				}
			case cmdBackoff:
				armBackoff(cmd.delay)
			}

		case <-tickCh:
			s.startCycle()

		case <-backoffCh:
			backoffTimer = nil
			backoffCh = nil
			// always return to the recurring schedule, then fetch once now
			armPolling()
			s.startCycle()
		}
	}
}
