package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/TFMV/ordermetrics/httpapi"
	"github.com/docopt/docopt.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ordersCSV = `order_id,customer_id,order_purchase_timestamp,total_price,order_item_id,product_category_name_english
o1,c-aaaaa1,2018-06-01 08:00:00,30,1,health_beauty
o2,c-bbbbb2,2018-06-03 12:30:00,20,1,health_beauty
o2,c-bbbbb2,2018-06-03 12:30:00,20,2,watches_gifts
`

func parse(t *testing.T, argv ...string) docopt.Opts {
	t.Helper()
	parser := &docopt.Parser{HelpHandler: docopt.NoHelpHandler}
	opts, err := parser.ParseArgs(usage, argv, version)
	require.NoError(t, err)
	return opts
}

func writeCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orders.csv")
	require.NoError(t, os.WriteFile(path, []byte(ordersCSV), 0o600))
	return path
}

func TestRunReport(t *testing.T) {
	data := writeCSV(t)

	var out bytes.Buffer
	err := run(context.Background(), parse(t, "report", "--data="+data, "--top=1"), &out)
	require.NoError(t, err)

	var view httpapi.ReportView
	require.NoError(t, json.Unmarshal(out.Bytes(), &view))
	require.Len(t, view.Daily, 3)
	assert.Equal(t, 0, view.Daily[1].OrderCount)
	assert.Equal(t, 2, view.Summary.TotalOrders)
	require.NotNil(t, view.Rankings)
	assert.Equal(t, "health_beauty", *view.Rankings.BestCategories[0].Category)
	assert.Equal(t, "...bbbb2", view.Rankings.MostRecentCustomers[0].CustomerIDShort)
}

func TestRunReportRange(t *testing.T) {
	data := writeCSV(t)

	var out bytes.Buffer
	err := run(context.Background(), parse(t, "report", "--data="+data, "--start=2018-06-03", "--end=2018-06-03"), &out)
	require.NoError(t, err)

	var view httpapi.ReportView
	require.NoError(t, json.Unmarshal(out.Bytes(), &view))
	require.Len(t, view.Daily, 1)
	assert.InDelta(t, 40.0, view.Daily[0].Revenue, 1e-9)
}

func TestRunReportErrors(t *testing.T) {
	data := writeCSV(t)
	ctx := context.Background()

	var out bytes.Buffer
	assert.Error(t, run(ctx, parse(t, "report", "--data="+data, "--start=June"), &out))
	assert.Error(t, run(ctx, parse(t, "report", "--data="+data, "--top=x"), &out))
	assert.Error(t, run(ctx, parse(t, "report", "--data="+filepath.Join(t.TempDir(), "missing.csv")), &out))
	assert.Empty(t, out.String())
}

func TestRunConvert(t *testing.T) {
	data := writeCSV(t)
	snapshot := filepath.Join(t.TempDir(), "orders.arrow")

	require.NoError(t, run(context.Background(), parse(t, "convert", "--data="+data, "--out="+snapshot), &bytes.Buffer{}))

	var fromCSV, fromArrow bytes.Buffer
	require.NoError(t, run(context.Background(), parse(t, "report", "--data="+data), &fromCSV))
	require.NoError(t, run(context.Background(), parse(t, "report", "--data="+snapshot), &fromArrow))
	assert.JSONEq(t, fromCSV.String(), fromArrow.String())
}
