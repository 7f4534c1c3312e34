// Package ingest consumes route submissions from Kafka and publishes conflict
// alerts back out. Readers and writers sit behind small interfaces so the
// pipeline can be driven by fakes in tests.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/ChrisYZZ/Cei-Noise/internal/conflict"
	"github.com/ChrisYZZ/Cei-Noise/pkg/models"
)

const (
	// Topic names
	TopicRouteSubmissions = "route-submissions"
	TopicConflictAlerts   = "conflict-alerts"

	defaultGroupID = "ceinoise-analyzer"

	// Reader fetch sizing
	minBytes = 10e3
	maxBytes = 10e6

	defaultWorkers   = 4
	defaultBatchSize = 100
)

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Metrics collects ingestion performance data.
type Metrics struct {
	TotalMessages    atomic.Int64
	AcceptedRoutes   atomic.Int64
	RejectedRoutes   atomic.Int64
	DecodeErrors     atomic.Int64
	PublishedAlerts  atomic.Int64
	PublishErrors    atomic.Int64
	LastLatencyNs    atomic.Int64
	AvgLatencyNs     atomic.Int64
	RoutesPerSecond  atomic.Int64

	mu           sync.Mutex
	latencySum   int64
	latencyCount int64
	lastAccepted time.Time
}

// RecordLatency updates latency metrics.
func (m *Metrics) RecordLatency(d time.Duration) {
	ns := d.Nanoseconds()
	m.LastLatencyNs.Store(ns)

	m.mu.Lock()
	m.latencySum += ns
	m.latencyCount++
	if m.latencyCount > 0 {
		m.AvgLatencyNs.Store(m.latencySum / m.latencyCount)
	}
	m.mu.Unlock()
}

// RecordAccepted updates throughput metrics for accepted routes.
func (m *Metrics) RecordAccepted(count int64) {
	m.AcceptedRoutes.Add(count)

	m.mu.Lock()
	now := time.Now()
	if !m.lastAccepted.IsZero() {
		elapsed := now.Sub(m.lastAccepted).Seconds()
		if elapsed > 0 {
			m.RoutesPerSecond.Store(int64(float64(count) / elapsed))
		}
	}
	m.lastAccepted = now
	m.mu.Unlock()
}

// Snapshot returns a copy of current metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		TotalMessages:   m.TotalMessages.Load(),
		AcceptedRoutes:  m.AcceptedRoutes.Load(),
		RejectedRoutes:  m.RejectedRoutes.Load(),
		DecodeErrors:    m.DecodeErrors.Load(),
		PublishedAlerts: m.PublishedAlerts.Load(),
		PublishErrors:   m.PublishErrors.Load(),
		LastLatencyMs:   float64(m.LastLatencyNs.Load()) / 1e6,
		AvgLatencyMs:    float64(m.AvgLatencyNs.Load()) / 1e6,
		RoutesPerSecond: m.RoutesPerSecond.Load(),
	}
}

// MetricsSnapshot is a point-in-time copy of metrics.
type MetricsSnapshot struct {
	TotalMessages   int64   `json:"total_messages"`
	AcceptedRoutes  int64   `json:"accepted_routes"`
	RejectedRoutes  int64   `json:"rejected_routes"`
	DecodeErrors    int64   `json:"decode_errors"`
	PublishedAlerts int64   `json:"published_alerts"`
	PublishErrors   int64   `json:"publish_errors"`
	LastLatencyMs   float64 `json:"last_latency_ms"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
	RoutesPerSecond int64   `json:"routes_per_second"`
}

// ---------------------------------------------------------------------------
// Rate Limiter
// ---------------------------------------------------------------------------

// RateLimiter enforces a minimum interval between processing rounds so a
// flooded topic cannot starve the analysis handlers.
type RateLimiter struct {
	interval time.Duration
	mu       sync.Mutex
	lastCall time.Time
}

// NewRateLimiter creates a rate limiter with the given interval.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{interval: interval}
}

// Wait blocks until the next round is allowed.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lastCall.IsZero() {
		r.lastCall = time.Now()
		return nil
	}

	elapsed := time.Since(r.lastCall)
	if elapsed < r.interval {
		select {
		case <-time.After(r.interval - elapsed):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.lastCall = time.Now()
	return nil
}

// ---------------------------------------------------------------------------
// Filter Configuration
// ---------------------------------------------------------------------------

// Filter defines criteria for accepting route submissions.
type Filter struct {
	// NamePrefixes accepts routes whose name starts with any of these.
	NamePrefixes []string

	// BoundingBox accepts routes whose every waypoint lies inside
	// [minLat, maxLat, minLon, maxLon].
	BoundingBox *[4]float64
}

// GuangzhouFilter returns a filter for the Guangzhou low-altitude pilot area.
func GuangzhouFilter() Filter {
	return Filter{
		BoundingBox: &[4]float64{22.8, 23.6, 112.9, 113.8},
	}
}

// Matches checks if a submission passes the filter criteria.
// When both criteria are set, OR logic applies (any criterion suffices).
// When only one criterion is set, that criterion must match.
func (f *Filter) Matches(p *models.RoutePayload) bool {
	if f.BoundingBox == nil && len(f.NamePrefixes) == 0 {
		return true
	}

	nameMatch := false
	if len(f.NamePrefixes) > 0 {
		name := strings.TrimSpace(p.Name)
		for _, prefix := range f.NamePrefixes {
			if strings.HasPrefix(name, prefix) {
				nameMatch = true
				break
			}
		}
	}

	bboxMatch := false
	if f.BoundingBox != nil && len(p.Path) > 0 {
		bb := f.BoundingBox
		bboxMatch = true
		for _, wp := range p.Path {
			if wp.Latitude < bb[0] || wp.Latitude > bb[1] ||
				wp.Longitude < bb[2] || wp.Longitude > bb[3] {
				bboxMatch = false
				break
			}
		}
	}

	if len(f.NamePrefixes) > 0 && f.BoundingBox != nil {
		return nameMatch || bboxMatch
	}
	if len(f.NamePrefixes) > 0 {
		return nameMatch
	}
	return bboxMatch
}

// ---------------------------------------------------------------------------
// Transport Interfaces
// ---------------------------------------------------------------------------

// MessageReader abstracts a Kafka reader for testing.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// MessageWriter abstracts a Kafka writer for testing.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewSubmissionReader returns a consumer-group reader on the route
// submissions topic.
func NewSubmissionReader(broker, groupID string) *kafka.Reader {
	if groupID == "" {
		groupID = defaultGroupID
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{broker},
		Topic:    TopicRouteSubmissions,
		GroupID:  groupID,
		MinBytes: minBytes,
		MaxBytes: maxBytes,
	})
}

// NewAlertWriter returns a writer on the conflict alerts topic.
func NewAlertWriter(broker string) *kafka.Writer {
	return &kafka.Writer{
		Addr:        kafka.TCP(broker),
		Topic:       TopicConflictAlerts,
		Balancer:    &kafka.LeastBytes{},
		Compression: kafka.Snappy,
	}
}

// ---------------------------------------------------------------------------
// Submission Processor
// ---------------------------------------------------------------------------

// RouteHandler processes a batch of accepted route submissions.
type RouteHandler func(ctx context.Context, routes []models.RoutePayload) error

// ProcessorConfig configures the submission processor.
type ProcessorConfig struct {
	Filter    Filter
	BatchSize int
	Workers   int

	// MinInterval throttles processing rounds; zero disables throttling.
	MinInterval time.Duration
}

// DefaultProcessorConfig returns sensible defaults.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		Filter:    GuangzhouFilter(),
		BatchSize: defaultBatchSize,
		Workers:   defaultWorkers,
	}
}

// Processor consumes route submissions and hands accepted ones to a handler.
type Processor struct {
	reader  MessageReader
	config  ProcessorConfig
	limiter *RateLimiter
	metrics *Metrics
	handler RouteHandler

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// NewProcessor creates a submission processor.
func NewProcessor(reader MessageReader, config ProcessorConfig, handler RouteHandler) *Processor {
	var limiter *RateLimiter
	if config.MinInterval > 0 {
		limiter = NewRateLimiter(config.MinInterval)
	}
	return &Processor{
		reader:  reader,
		config:  config,
		limiter: limiter,
		metrics: &Metrics{},
		handler: handler,
	}
}

// Metrics returns the processor's metrics collector.
func (p *Processor) Metrics() *Metrics {
	return p.metrics
}

// Start begins continuous consumption. Non-blocking.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("processor already running")
	}
	p.running = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	go p.run(ctx)
	return nil
}

// Stop halts the processor.
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.running = false
}

// IsRunning returns whether the processor is active.
func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// run is the main consumption loop.
func (p *Processor) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.running = false
			p.mu.Unlock()
			return
		default:
		}

		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				continue
			}
		}

		batch, err := p.readBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			continue
		}
		if len(batch) == 0 {
			continue
		}

		p.processBatches(ctx, batch)
	}
}

// readBatch drains up to BatchSize messages, decoding and filtering each.
// The first message blocks; the rest are collected with a short deadline so
// small bursts ship as one batch.
func (p *Processor) readBatch(ctx context.Context) ([]models.RoutePayload, error) {
	start := time.Now()

	msg, err := p.reader.ReadMessage(ctx)
	if err != nil {
		return nil, err
	}

	batchSize := p.config.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	accepted := make([]models.RoutePayload, 0, batchSize)
	if r, ok := p.decode(msg); ok {
		accepted = append(accepted, r)
	}

	drainCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	for len(accepted) < batchSize {
		msg, err := p.reader.ReadMessage(drainCtx)
		if err != nil {
			break
		}
		if r, ok := p.decode(msg); ok {
			accepted = append(accepted, r)
		}
	}
	cancel()

	p.metrics.RecordLatency(time.Since(start))
	return accepted, nil
}

// decode unmarshals, validates and filters one submission.
func (p *Processor) decode(msg kafka.Message) (models.RoutePayload, bool) {
	p.metrics.TotalMessages.Add(1)

	var payload models.RoutePayload
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		p.metrics.DecodeErrors.Add(1)
		return models.RoutePayload{}, false
	}

	if err := payload.ToRoute().Validate(); err != nil {
		p.metrics.RejectedRoutes.Add(1)
		return models.RoutePayload{}, false
	}

	if !p.config.Filter.Matches(&payload) {
		p.metrics.RejectedRoutes.Add(1)
		return models.RoutePayload{}, false
	}

	return payload, true
}

// processBatches splits accepted routes into batches and processes in
// parallel with a bounded worker pool.
func (p *Processor) processBatches(ctx context.Context, routes []models.RoutePayload) {
	p.metrics.RecordAccepted(int64(len(routes)))

	batchSize := p.config.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	var batches [][]models.RoutePayload
	for i := 0; i < len(routes); i += batchSize {
		end := i + batchSize
		if end > len(routes) {
			end = len(routes)
		}
		batches = append(batches, routes[i:end])
	}

	workers := p.config.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for _, batch := range batches {
		select {
		case <-ctx.Done():
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(b []models.RoutePayload) {
			defer wg.Done()
			defer func() { <-sem }()

			if p.handler != nil {
				_ = p.handler(ctx, b)
			}
		}(batch)
	}

	wg.Wait()
}

// ProcessOnce reads and processes a single batch (useful for testing).
func (p *Processor) ProcessOnce(ctx context.Context) (int, error) {
	batch, err := p.readBatch(ctx)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}
	p.processBatches(ctx, batch)
	return len(batch), nil
}

// ---------------------------------------------------------------------------
// Alert Publisher
// ---------------------------------------------------------------------------

// Publisher emits conflict alerts to the alerts topic.
type Publisher struct {
	writer  MessageWriter
	metrics *Metrics
}

// NewPublisher creates an alert publisher. A nil metrics collector gets a
// private one.
func NewPublisher(writer MessageWriter, metrics *Metrics) *Publisher {
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &Publisher{writer: writer, metrics: metrics}
}

// Metrics returns the publisher's metrics collector.
func (p *Publisher) Metrics() *Metrics {
	return p.metrics
}

// PublishAlert writes one alert, keyed by the route pair so alerts for the
// same pair land on the same partition.
func (p *Publisher) PublishAlert(ctx context.Context, alert models.ConflictAlert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encoding alert: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(alert.RouteA + "|" + alert.RouteB),
		Value: data,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.metrics.PublishErrors.Add(1)
		return fmt.Errorf("publishing alert: %w", err)
	}

	p.metrics.PublishedAlerts.Add(1)
	return nil
}

// PublishEvents converts detection events to alerts and publishes each.
func (p *Publisher) PublishEvents(ctx context.Context, events []conflict.Event) error {
	for _, ev := range events {
		if err := p.PublishAlert(ctx, AlertFromEvent(ev)); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// AlertFromEvent converts a detection event into its wire alert.
func AlertFromEvent(ev conflict.Event) models.ConflictAlert {
	return models.ConflictAlert{
		ID:          uuid.New(),
		EmittedAt:   time.Now().UTC(),
		RouteA:      ev.AircraftA,
		RouteB:      ev.AircraftB,
		StartTime:   ev.Start,
		EndTime:     ev.End,
		Duration:    ev.Duration,
		MinDistance: ev.MinDistance,
		Severity:    ev.Severity.String(),
		Longitude:   ev.Midpoint.Lon,
		Latitude:    ev.Midpoint.Lat,
		Height:      ev.Midpoint.Height,
	}
}
