package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/TFMV/ordermetrics/db"
	"github.com/TFMV/ordermetrics/query"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var day0 = time.Date(2018, time.January, 1, 0, 0, 0, 0, time.UTC)

func day(n, hour int) time.Time {
	return day0.AddDate(0, 0, n).Add(time.Duration(hour) * time.Hour)
}

func testLines() []query.OrderLine {
	return []query.OrderLine{
		{OrderID: "o1", CustomerID: "c1", PurchasedAt: day(0, 10), TotalPrice: 10, ItemID: 1, Category: query.Category("toys")},
		{OrderID: "o1", CustomerID: "c1", PurchasedAt: day(0, 10), TotalPrice: 5, ItemID: 2, Category: query.Category("toys")},
		{OrderID: "o2", CustomerID: "c2", PurchasedAt: day(1, 23), TotalPrice: 20, ItemID: 1, Category: nil},
		{OrderID: "o3", CustomerID: "c1", PurchasedAt: day(3, 0), TotalPrice: 30, ItemID: 1, Category: query.Category("books")},
	}
}

func createTestRecord(pool memory.Allocator) arrow.Record {
	return db.NewRecord(pool, testLines())
}

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	database := db.NewDB(db.Options{Logger: zap.NewNop()})
	t.Cleanup(database.Close)

	record := createTestRecord(memory.DefaultAllocator)
	defer record.Release()
	require.NoError(t, database.Ingest(record))
	return database
}

func TestDBIngest(t *testing.T) {
	t.Parallel()

	pool := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer pool.AssertSize(t, 0)

	database := db.NewDB(db.Options{})
	record := createTestRecord(pool)
	require.NoError(t, database.Ingest(record))
	record.Release()

	assert.Equal(t, 4, database.Len())
	assert.Equal(t, testLines(), database.Range(time.Time{}, time.Time{}))

	// The store keeps its own reference until Close.
	database.Close()
	assert.Equal(t, 0, database.Len())
}

func TestDBIngestRejectsInvalidBatch(t *testing.T) {
	t.Parallel()

	database := db.NewDB(db.Options{})
	defer database.Close()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: query.ColOrderID, Type: arrow.BinaryTypes.String},
	}, nil)
	builder := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer builder.Release()
	builder.Field(0).(*array.StringBuilder).Append("o1")
	record := builder.NewRecord()
	defer record.Release()

	err := database.Ingest(record)
	assert.ErrorIs(t, err, query.ErrInvalidInputShape)
	assert.Equal(t, 0, database.Len())

	lines := testLines()
	lines[2].CustomerID = ""
	bad := db.NewRecord(memory.DefaultAllocator, lines)
	defer bad.Release()
	err = database.Ingest(bad)
	var se *query.ShapeError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 3, se.Row)
	assert.Equal(t, 0, database.Len(), "a rejected batch adds nothing")
}

func TestDBBounds(t *testing.T) {
	t.Parallel()

	empty := db.NewDB(db.Options{})
	defer empty.Close()
	_, _, ok := empty.Bounds()
	assert.False(t, ok)

	database := newTestDB(t)
	first, last, ok := database.Bounds()
	require.True(t, ok)
	assert.Equal(t, day(0, 0), first)
	assert.Equal(t, day(3, 0), last)
}

func TestDBRangeInclusive(t *testing.T) {
	t.Parallel()

	database := newTestDB(t)

	// The end day is included in full, even for a late purchase.
	lines := database.Range(day(1, 0), day(1, 0))
	require.Len(t, lines, 1)
	assert.Equal(t, "o2", lines[0].OrderID)

	assert.Len(t, database.Range(day(0, 12), day(3, 0)), 4)
	assert.Len(t, database.Range(day(2, 0), time.Time{}), 1)
	assert.Len(t, database.Range(time.Time{}, day(0, 0)), 2)
	assert.Empty(t, database.Range(day(10, 0), day(20, 0)))

	// Snapshots are copies.
	lines[0].OrderID = "mutated"
	assert.Equal(t, "o2", database.Range(day(1, 0), day(1, 0))[0].OrderID)
}

func TestDBQueryByCustomer(t *testing.T) {
	t.Parallel()

	database := newTestDB(t)
	assert.Equal(t, 2, database.Customers())

	lines := database.QueryByCustomer("c1", time.Time{}, time.Time{})
	require.Len(t, lines, 3)
	assert.Equal(t, "o3", lines[2].OrderID)
	assert.Empty(t, database.QueryByCustomer("nobody", time.Time{}, time.Time{}))

	ranged := database.QueryByCustomer("c1", day(1, 0), day(3, 0))
	require.Len(t, ranged, 1)
	assert.Equal(t, "o3", ranged[0].OrderID)
	assert.Len(t, database.QueryByCustomer("c1", time.Time{}, day(0, 0)), 2)
}

func TestDBReport(t *testing.T) {
	t.Parallel()

	database := newTestDB(t)
	ctx := context.Background()

	report, err := database.Report(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, report.Daily, 4)
	assert.Equal(t, 1, report.Daily[0].OrderCount)
	assert.Equal(t, query.DailyOrders{Date: day(2, 0)}, report.Daily[2])
	require.Len(t, report.Customers, 2)
	assert.Equal(t, 0.0, report.Customers[0].Recency)

	t.Run("Cached", func(t *testing.T) {
		again, err := database.Report(ctx, time.Time{}, time.Time{})
		require.NoError(t, err)
		assert.Same(t, report, again)
	})

	t.Run("InvalidatedByIngest", func(t *testing.T) {
		more := db.NewRecord(memory.DefaultAllocator, []query.OrderLine{
			{OrderID: "o9", CustomerID: "c9", PurchasedAt: day(5, 1), TotalPrice: 1, ItemID: 1},
		})
		defer more.Release()
		require.NoError(t, database.Ingest(more))

		fresh, err := database.Report(ctx, time.Time{}, time.Time{})
		require.NoError(t, err)
		assert.NotSame(t, report, fresh)
		assert.Len(t, fresh.Daily, 6)
	})

	t.Run("Range", func(t *testing.T) {
		// Recency is relative to the latest day inside the range.
		ranged, err := database.Report(ctx, day(0, 0), day(1, 0))
		require.NoError(t, err)
		require.Len(t, ranged.Daily, 2)
		for _, c := range ranged.Customers {
			if c.CustomerID == "c1" {
				assert.InDelta(t, 1.0/30.0, c.Recency, 1e-12)
			}
		}
	})
}

func TestDBReportEmptyStore(t *testing.T) {
	t.Parallel()

	database := db.NewDB(db.Options{CacheSize: -1})
	defer database.Close()

	report, err := database.Report(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, report.Daily)
	assert.Empty(t, report.Categories)
	assert.Empty(t, report.Customers)
}

func TestDBExport(t *testing.T) {
	t.Parallel()

	database := newTestDB(t)
	record := database.Export(memory.DefaultAllocator)
	defer record.Release()

	assert.True(t, record.Schema().Equal(db.Schema))
	lines, err := query.FromRecord(record)
	require.NoError(t, err)
	assert.Equal(t, testLines(), lines)
}

func TestNewRecordKeepsWallClock(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("BRT", -3*60*60)
	line := query.OrderLine{OrderID: "o1", CustomerID: "c1", PurchasedAt: time.Date(2018, 5, 1, 22, 15, 0, 0, loc), TotalPrice: 1, ItemID: 1}
	record := db.NewRecord(nil, []query.OrderLine{line})
	defer record.Release()

	lines, err := query.FromRecord(record)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2018, 5, 1, 22, 15, 0, 0, time.UTC), lines[0].PurchasedAt)
}
