package flight_test

import (
	"context"
	"testing"
	"time"

	"github.com/TFMV/ordermetrics/auth"
	"github.com/TFMV/ordermetrics/db"
	ordersflight "github.com/TFMV/ordermetrics/flight"
	"github.com/TFMV/ordermetrics/query"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockRoleManager implements auth.RoleManager for testing
type MockRoleManager struct {
	mock.Mock
}

func (m *MockRoleManager) HasRole(username, role string) bool {
	args := m.Called(username, role)
	return args.Bool(0)
}

var day0 = time.Date(2018, time.March, 1, 0, 0, 0, 0, time.UTC)

func createTestRecord(pool memory.Allocator) arrow.Record {
	return db.NewRecord(pool, []query.OrderLine{
		{OrderID: "o1", CustomerID: "customer-00001", PurchasedAt: day0.Add(9 * time.Hour), TotalPrice: 10, ItemID: 1, Category: query.Category("toys")},
		{OrderID: "o1", CustomerID: "customer-00001", PurchasedAt: day0.Add(9 * time.Hour), TotalPrice: 15, ItemID: 2, Category: query.Category("toys")},
		{OrderID: "o2", CustomerID: "customer-00002", PurchasedAt: day0.AddDate(0, 0, 2), TotalPrice: 40, ItemID: 1},
	})
}

// startServer runs the service on a loopback port and returns its address.
func startServer(t *testing.T, database *db.DB, roles auth.RoleManager) string {
	t.Helper()
	svc := ordersflight.NewOrderFlightService(database, roles, zap.NewNop())
	srv, err := ordersflight.NewServer("localhost:0", svc)
	require.NoError(t, err)
	go func() {
		_ = srv.Serve()
	}()
	t.Cleanup(srv.Shutdown)
	return srv.Addr().String()
}

func newClient(t *testing.T, addr, user string) *ordersflight.FlightClient {
	t.Helper()
	client, err := ordersflight.NewFlightClient(addr, user)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func TestFlightRoundTrip(t *testing.T) {
	database := db.NewDB(db.Options{})
	defer database.Close()

	addr := startServer(t, database, nil)
	client := newClient(t, addr, "")
	ctx := context.Background()

	rec := createTestRecord(memory.DefaultAllocator)
	defer rec.Release()
	result, err := client.Ingest(ctx, []arrow.Record{rec})
	require.NoError(t, err)
	assert.Equal(t, ordersflight.PutResult{Records: 1, Rows: 3}, result)
	assert.Equal(t, 3, database.Len())

	t.Run("Daily", func(t *testing.T) {
		records, err := client.Query(ctx, ordersflight.Ticket{Table: query.TableDaily})
		require.NoError(t, err)
		defer releaseAll(records)

		require.Len(t, records, 1)
		assert.True(t, records[0].Schema().Equal(query.DailySchema))
		assert.Equal(t, int64(3), records[0].NumRows())
		counts := records[0].Column(1).(*array.Int64)
		assert.Equal(t, []int64{1, 0, 1}, counts.Int64Values())
	})

	t.Run("RFM", func(t *testing.T) {
		records, err := client.Query(ctx, ordersflight.Ticket{Table: query.TableRFM})
		require.NoError(t, err)
		defer releaseAll(records)

		require.Len(t, records, 1)
		short := records[0].Column(4).(*array.String)
		assert.Equal(t, "...00001", short.Value(0))
	})

	t.Run("Ranged", func(t *testing.T) {
		records, err := client.Query(ctx, ordersflight.Ticket{Table: query.TableCategories, Start: "2018-03-01", End: "2018-03-01"})
		require.NoError(t, err)
		defer releaseAll(records)

		require.Len(t, records, 1)
		require.Equal(t, int64(1), records[0].NumRows())
		assert.Equal(t, "toys", records[0].Column(0).(*array.String).Value(0))
		assert.Equal(t, int64(3), records[0].Column(1).(*array.Int64).Value(0))
	})

	t.Run("UnknownTable", func(t *testing.T) {
		_, err := client.Query(ctx, ordersflight.Ticket{Table: "sellers"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "NotFound")
	})

	t.Run("BadDate", func(t *testing.T) {
		_, err := client.Query(ctx, ordersflight.Ticket{Table: query.TableDaily, Start: "03/01/2018"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "InvalidArgument")
	})

	t.Run("ListTables", func(t *testing.T) {
		names, err := client.ListTables(ctx)
		require.NoError(t, err)
		assert.Equal(t, query.TableNames, names)
	})
}

func TestFlightRejectsInvalidBatch(t *testing.T) {
	database := db.NewDB(db.Options{})
	defer database.Close()

	addr := startServer(t, database, nil)
	client := newClient(t, addr, "")

	schema := arrow.NewSchema([]arrow.Field{{Name: query.ColOrderID, Type: arrow.BinaryTypes.String}}, nil)
	builder := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer builder.Release()
	builder.Field(0).(*array.StringBuilder).Append("o1")
	rec := builder.NewRecord()
	defer rec.Release()

	_, err := client.Ingest(context.Background(), []arrow.Record{rec})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InvalidArgument")
	assert.Equal(t, 0, database.Len())
}

func TestFlightAuthorization(t *testing.T) {
	database := db.NewDB(db.Options{})
	defer database.Close()

	roles := new(MockRoleManager)
	roles.On("HasRole", "ana", auth.RoleAnalyst).Return(true)
	roles.On("HasRole", "bern", auth.RoleAnalyst).Return(false)

	addr := startServer(t, database, roles)
	ctx := context.Background()
	ticket := ordersflight.Ticket{Table: query.TableDaily}

	records, err := newClient(t, addr, "ana").Query(ctx, ticket)
	require.NoError(t, err)
	releaseAll(records)

	_, err = newClient(t, addr, "bern").Query(ctx, ticket)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PermissionDenied")

	_, err = newClient(t, addr, "").Query(ctx, ticket)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unauthenticated")

	roles.AssertExpectations(t)
}

func releaseAll(records []arrow.Record) {
	for _, rec := range records {
		rec.Release()
	}
}
