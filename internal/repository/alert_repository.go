package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"PriceSentinel/internal/domain/models"
	"PriceSentinel/internal/domain/repository"
	pkgkafka "PriceSentinel/pkg/kafka"
	applogger "PriceSentinel/pkg/logger"
)

// ClickHouseAlertStore implements AlertSink on a ClickHouse table.
type ClickHouseAlertStore struct {
	db    *sql.DB
	table string
}

// NewClickHouseAlertStore creates ClickHouse-backed alert storage.
func NewClickHouseAlertStore(db *sql.DB, table string) repository.AlertSink {
	return &ClickHouseAlertStore{db: db, table: table}
}

func (s *ClickHouseAlertStore) Send(ctx context.Context, e *models.AnomalyEvent) error {
	q := fmt.Sprintf("INSERT INTO %s (ts, symbol, method, price, mean, std, score, threshold, volatility) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", s.table)
	_, err := s.db.ExecContext(ctx, q,
		e.Timestamp,
		e.Symbol,
		e.Method,
		e.Price,
		e.Stats.Mean,
		e.Stats.Std,
		e.Stats.Score,
		e.Stats.Threshold,
		e.Stats.Volatility,
	)
	return err
}

func (s *ClickHouseAlertStore) SendBatch(ctx context.Context, events []*models.AnomalyEvent) error {
	if len(events) == 0 {
		return nil
	}
	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*9)
	for _, e := range events {
		if e == nil || e.Symbol == "" {
			continue
		}
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			e.Timestamp,
			e.Symbol,
			e.Method,
			e.Price,
			e.Stats.Mean,
			e.Stats.Std,
			e.Stats.Score,
			e.Stats.Threshold,
			e.Stats.Volatility,
		)
	}
	if len(values) == 0 {
		return nil
	}
	q := fmt.Sprintf("INSERT INTO %s (ts, symbol, method, price, mean, std, score, threshold, volatility) VALUES %s", s.table, strings.Join(values, ","))
	_, err := s.db.ExecContext(ctx, q, args...)
	return err
}

// Recent returns the latest stored events for a symbol, newest first.
func (s *ClickHouseAlertStore) Recent(ctx context.Context, symbol string, limit int) ([]*models.AnomalyEvent, error) {
	q := fmt.Sprintf("SELECT ts, symbol, method, price, mean, std, score, threshold, volatility FROM %s WHERE symbol = ? ORDER BY ts DESC LIMIT ?", s.table)
	rows, err := s.db.QueryContext(ctx, q, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.AnomalyEvent
	for rows.Next() {
		var e models.AnomalyEvent
		var ts time.Time
		if err := rows.Scan(&ts, &e.Symbol, &e.Method, &e.Price,
			&e.Stats.Mean, &e.Stats.Std, &e.Stats.Score, &e.Stats.Threshold, &e.Stats.Volatility); err != nil {
			return nil, err
		}
		e.Timestamp = ts
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (s *ClickHouseAlertStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseAlertStore) Close() error {
	return nil // pool owned by pkg/clickhouse
}

// KafkaAlertPublisher implements AlertSink on a Kafka topic, keyed by symbol
// so one symbol's alerts stay ordered within a partition.
type KafkaAlertPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaAlertPublisher creates a Kafka-backed alert sink.
func NewKafkaAlertPublisher(producer *pkgkafka.Producer, topic string) repository.AlertSink {
	return &KafkaAlertPublisher{producer: producer, topic: topic}
}

func (p *KafkaAlertPublisher) Send(ctx context.Context, e *models.AnomalyEvent) error {
	return p.producer.Publish(ctx, p.topic, []byte(e.Symbol), e)
}

func (p *KafkaAlertPublisher) SendBatch(ctx context.Context, events []*models.AnomalyEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(events))
	for i, e := range events {
		msgs[i] = pkgkafka.Message{Key: []byte(e.Symbol), Value: e}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaAlertPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// LogAlertSink writes alerts to the structured log. Default sink when no
// broker or store is configured.
type LogAlertSink struct {
	logger *applogger.Logger
}

// NewLogAlertSink creates a logging alert sink.
func NewLogAlertSink(logger *applogger.Logger) repository.AlertSink {
	return &LogAlertSink{logger: logger}
}

func (s *LogAlertSink) Send(_ context.Context, e *models.AnomalyEvent) error {
	s.logger.Warn("anomaly detected",
		applogger.String("symbol", e.Symbol),
		applogger.String("method", e.Method),
		applogger.Any("price", e.Price),
		applogger.Any("score", e.Stats.Score),
		applogger.Any("threshold", e.Stats.Threshold),
	)
	return nil
}

func (s *LogAlertSink) SendBatch(ctx context.Context, events []*models.AnomalyEvent) error {
	for _, e := range events {
		if err := s.Send(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *LogAlertSink) Close() error { return nil }
