package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() *Report {
	lines := []OrderLine{
		line("o1", "alice", at(0, 9), 10, 1, Category("toys")),
		line("o1", "alice", at(0, 9), 20, 2, Category("toys")),
		line("o2", "bob", at(30, 9), 30, 1, Category("books")),
		line("o3", "carol", at(60, 9), 40, 1, nil),
	}
	return &Report{
		Daily:      DailySeries(lines),
		Categories: CategoryVolumes(lines),
		Customers:  RFMScores(lines),
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleReport())
	assert.Equal(t, 3, s.TotalOrders)
	assert.InDelta(t, 100.0, s.TotalRevenue, 1e-9)
	// alice 2.0, bob 1.0, carol 0.0
	assert.InDelta(t, 1.0, s.AvgRecency, 1e-9)
	assert.InDelta(t, 4.0/3.0, s.AvgFrequency, 1e-9)
	assert.InDelta(t, 100.0/3.0, s.AvgMonetary, 1e-9)

	assert.Equal(t, Summary{}, Summarize(&Report{}))
}

func TestRankings(t *testing.T) {
	r := sampleReport()

	best := r.BestCategories(1)
	require.Len(t, best, 1)
	assert.Equal(t, "toys", best[0].Name())

	worst := r.WorstCategories(2)
	require.Len(t, worst, 2)
	// books and the missing bucket tie at 1; books was seen first.
	assert.Equal(t, "books", worst[0].Name())
	assert.Nil(t, worst[1].Category)

	assert.Len(t, r.BestCategories(10), 3)
	assert.Len(t, r.WorstCategories(-1), 3)

	recent := r.MostRecentCustomers(1)
	require.Len(t, recent, 1)
	assert.Equal(t, "carol", recent[0].CustomerID)

	assert.Equal(t, "alice", r.TopCustomersByFrequency(1)[0].CustomerID)
	assert.Equal(t, "carol", r.TopCustomersByMonetary(1)[0].CustomerID)

	// Rankings never reorder the report itself.
	assert.Equal(t, "alice", r.Customers[0].CustomerID)
	assert.Equal(t, "toys", r.Categories[0].Name())
}

func TestReportCustomer(t *testing.T) {
	r := sampleReport()

	bob, ok := r.Customer("bob")
	require.True(t, ok)
	assert.Equal(t, 1, bob.Frequency)
	assert.InDelta(t, 1.0, bob.Recency, 1e-9)

	_, ok = r.Customer("bo")
	assert.False(t, ok)
	_, ok = r.Customer("zed")
	assert.False(t, ok)
	_, ok = (&Report{}).Customer("alice")
	assert.False(t, ok)
}
