package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"PriceSentinel/internal/domain/models"
	domrepo "PriceSentinel/internal/domain/repository"
)

// AlertPipeline sits between the anomaly detector and the alert sink.
// It validates events, throttles repeat alerts per symbol, and buffers when
// the sink is unavailable so a broker hiccup does not lose alerts.
type AlertPipeline struct {
	sink    domrepo.AlertSink
	metrics domrepo.Metrics

	cooldown time.Duration // minimum gap between alerts for one symbol
	bufSize  int
	bufCh    chan *models.AnomalyEvent
	stopCh   chan struct{}
	started  bool
	mu       sync.Mutex
	lastSent map[string]time.Time
}

type PipelineOption func(*AlertPipeline)

// WithCooldown sets the per-symbol minimum interval between delivered alerts.
func WithCooldown(d time.Duration) PipelineOption {
	return func(p *AlertPipeline) {
		if d >= 0 {
			p.cooldown = d
		}
	}
}

// WithBufferSize sets the retry buffer capacity.
func WithBufferSize(n int) PipelineOption {
	return func(p *AlertPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// NewAlertPipeline creates a pipeline in front of the given sink.
func NewAlertPipeline(sink domrepo.AlertSink, metrics domrepo.Metrics, opts ...PipelineOption) *AlertPipeline {
	p := &AlertPipeline{
		sink:     sink,
		metrics:  metrics,
		cooldown: time.Minute,
		bufSize:  1000,
		stopCh:   make(chan struct{}),
		lastSent: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.AnomalyEvent, p.bufSize)
	return p
}

// Start launches background flushing of buffered events.
func (p *AlertPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-p.stopCh:
				return
			case e := <-p.bufCh:
				if e == nil {
					continue
				}
				if err := p.sink.Send(ctx, e); err != nil {
					if backoff < 2*time.Second {
						backoff *= 2
					}
					p.metrics.RecordFetchError("alert_flush")
					time.Sleep(backoff)
					// requeue if space; drop otherwise
					select {
					case p.bufCh <- e:
					default:
						p.metrics.RecordFetchError("alert_buffer_drop")
					}
				} else {
					backoff = 50 * time.Millisecond
				}
			}
		}
	}()
}

// Stop stops the background flushing.
func (p *AlertPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
}

// Process validates, throttles, and forwards an event to the sink, buffering
// on delivery errors.
func (p *AlertPipeline) Process(ctx context.Context, e *models.AnomalyEvent) error {
	start := time.Now()
	if err := validateEvent(e); err != nil {
		p.metrics.RecordFetchError("alert_validate")
		return err
	}
	if !p.allow(e.Symbol, start) {
		// still inside the cooldown window; drop silently
		p.metrics.RecordFetchError("alert_throttle")
		return nil
	}

	if err := p.sink.Send(ctx, e); err != nil {
		p.metrics.RecordFetchError("alert_send")
		select {
		case p.bufCh <- e:
		default:
			p.metrics.RecordFetchError("alert_buffer_full")
		}
		return fmt.Errorf("alert sink: %w", err)
	}
	p.metrics.RecordLatency("alert_send", time.Since(start).Seconds())
	return nil
}

func validateEvent(e *models.AnomalyEvent) error {
	if e == nil {
		return fmt.Errorf("event nil")
	}
	if e.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp unset")
	}
	if e.Price < 0 {
		return fmt.Errorf("negative price")
	}
	return nil
}

func (p *AlertPipeline) allow(symbol string, now time.Time) bool {
	if p.cooldown <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.lastSent[symbol]
	if !last.IsZero() && now.Sub(last) < p.cooldown {
		return false
	}
	p.lastSent[symbol] = now
	return true
}
