// Package db implements an in‐memory store of order-line Arrow records
// that serves date-bounded snapshots and cached analytics reports.
package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/TFMV/ordermetrics/index"
	"github.com/TFMV/ordermetrics/query"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/golang/groupcache/lru"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------
// Prometheus Metrics
// ---------------------------------------------------------------------

var (
	ingestLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "ordermetrics_ingest_latency_seconds",
		Help: "Ingest operation latency distribution",
	})
	reportLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "ordermetrics_report_latency_seconds",
		Help: "Report derivation latency distribution",
	})
	reportCache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ordermetrics_report_cache_total",
		Help: "Report cache lookups by result",
	}, []string{"result"})
	storedLines = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ordermetrics_order_lines",
		Help: "Order lines currently held in memory",
	})
)

func init() {
	// Register Prometheus metrics.
	prometheus.MustRegister(ingestLatency, reportLatency, reportCache, storedLines)
}

// DefaultCacheSize is the number of reports kept when Options.CacheSize
// is zero.
const DefaultCacheSize = 32

// Options configures a DB.
type Options struct {
	// CacheSize bounds the report cache; negative disables caching.
	CacheSize int
	Logger    *zap.Logger
}

// ---------------------------------------------------------------------
// DB: The In-Memory Order Store
// ---------------------------------------------------------------------

// DB holds ingested order-line batches. Snapshots handed to the engine are
// copies, so ingestion never races with a running report.
type DB struct {
	mu        sync.RWMutex
	records   []arrow.Record
	lines     []query.OrderLine
	customers index.Index
	cache     *lru.Cache
	engine    *query.Engine
	logger    *zap.Logger

	// gen counts ingests so a report derived from an older snapshot is
	// never cached.
	gen uint64
}

// NewDB initializes a new DB instance.
func NewDB(opts Options) *DB {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	size := opts.CacheSize
	if size == 0 {
		size = DefaultCacheSize
	}
	var cache *lru.Cache
	if size > 0 {
		cache = lru.New(size)
	}
	return &DB{
		customers: index.NewRoaringIndex(),
		cache:     cache,
		engine:    query.NewEngine(logger),
		logger:    logger.Named("db"),
	}
}

// Ingest validates an order-line batch and adds it to the store. A batch
// that fails validation is rejected whole. The DB retains the record until
// Close.
func (db *DB) Ingest(record arrow.Record) error {
	start := time.Now()
	lines, err := query.FromRecord(record)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	for i, line := range lines {
		if err := line.Validate(); err != nil {
			if se, ok := err.(*query.ShapeError); ok {
				se.Row = i + 1
			}
			return fmt.Errorf("ingest: %w", err)
		}
	}

	record.Retain()
	db.mu.Lock()
	defer db.mu.Unlock()

	base := len(db.lines)
	db.records = append(db.records, record)
	db.lines = append(db.lines, lines...)
	for i, line := range lines {
		db.customers.Add(uint32(base+i), line.CustomerID)
	}
	db.gen++
	if db.cache != nil {
		db.cache.Clear()
	}

	storedLines.Set(float64(len(db.lines)))
	ingestLatency.Observe(time.Since(start).Seconds())
	db.logger.Debug("ingested batch", zap.Int("lines", len(lines)), zap.Int("total", len(db.lines)))
	return nil
}

// IngestAll ingests each record in turn, stopping at the first failure.
func (db *DB) IngestAll(records []arrow.Record) error {
	for i, rec := range records {
		if err := db.Ingest(rec); err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
	}
	return nil
}

// Len returns the number of order lines held.
func (db *DB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.lines)
}

// Bounds returns the first and last purchase days held. ok is false when
// the store is empty.
func (db *DB) Bounds() (first, last time.Time, ok bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if len(db.lines) == 0 {
		return time.Time{}, time.Time{}, false
	}
	first = query.PurchaseDay(db.lines[0].PurchasedAt)
	last = first
	for _, line := range db.lines[1:] {
		day := query.PurchaseDay(line.PurchasedAt)
		if day.Before(first) {
			first = day
		}
		if day.After(last) {
			last = day
		}
	}
	return first, last, true
}

// Range returns a copy of the lines purchased between the calendar days of
// start and end, both included. A zero start or end leaves that side open.
func (db *DB) Range(start, end time.Time) []query.OrderLine {
	snapshot, _ := db.snapshot(start, end)
	return snapshot
}

func (db *DB) snapshot(start, end time.Time) ([]query.OrderLine, uint64) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	snapshot := make([]query.OrderLine, 0, len(db.lines))
	for _, line := range db.lines {
		if inRange(line.PurchasedAt, start, end) {
			snapshot = append(snapshot, line)
		}
	}
	return snapshot, db.gen
}

func inRange(t, start, end time.Time) bool {
	day := query.PurchaseDay(t)
	if !start.IsZero() && day.Before(query.PurchaseDay(start)) {
		return false
	}
	return end.IsZero() || !day.After(query.PurchaseDay(end))
}

// QueryByCustomer returns the lines of one customer purchased between the
// calendar days of start and end, both included, in ingest order. Zero
// bounds leave that side open.
func (db *DB) QueryByCustomer(customerID string, start, end time.Time) []query.OrderLine {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows := db.customers.Search(customerID)
	result := make([]query.OrderLine, 0, len(rows))
	for _, row := range rows {
		if line := db.lines[row]; inRange(line.PurchasedAt, start, end) {
			result = append(result, line)
		}
	}
	return result
}

// Customers returns the number of distinct customers held.
func (db *DB) Customers() int {
	return db.customers.Cardinality()
}

// Report derives the analytics report for the inclusive day range. Reports
// are cached per range until the next ingest; callers must treat the
// returned report as read-only.
func (db *DB) Report(ctx context.Context, start, end time.Time) (*query.Report, error) {
	begin := time.Now()
	key := rangeKey(start, end)

	if db.cache != nil {
		db.mu.Lock()
		cached, ok := db.cache.Get(key)
		db.mu.Unlock()
		if ok {
			reportCache.WithLabelValues("hit").Inc()
			return cached.(*query.Report), nil
		}
		reportCache.WithLabelValues("miss").Inc()
	}

	snapshot, gen := db.snapshot(start, end)
	report, err := db.engine.Run(ctx, snapshot)
	if err != nil {
		return nil, fmt.Errorf("report %s: %w", key, err)
	}

	if db.cache != nil {
		db.mu.Lock()
		if gen == db.gen {
			db.cache.Add(key, report)
		}
		db.mu.Unlock()
	}
	reportLatency.Observe(time.Since(begin).Seconds())
	db.logger.Debug("report computed", zap.String("range", key), zap.Int("lines", len(snapshot)))
	return report, nil
}

func rangeKey(start, end time.Time) string {
	format := func(t time.Time) string {
		if t.IsZero() {
			return "*"
		}
		return query.PurchaseDay(t).Format(time.DateOnly)
	}
	return format(start) + ".." + format(end)
}

// GetSchema returns the canonical order-line schema.
func (db *DB) GetSchema() *arrow.Schema {
	return Schema
}

// Export encodes every stored line as one record of the canonical Schema,
// whatever the layout of the ingested batches. The caller must Release it.
func (db *DB) Export(mem memory.Allocator) arrow.Record {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return NewRecord(mem, db.lines)
}

// Close releases all records and empties the store.
func (db *DB) Close() {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, record := range db.records {
		record.Release()
	}
	db.records = nil
	db.lines = nil
	db.gen++
	db.customers.Clear()
	if db.cache != nil {
		db.cache.Clear()
	}
	storedLines.Set(0)
}
