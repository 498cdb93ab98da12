package query

import (
	"fmt"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// FromRecords converts several order-line batches into one slice. The
// batches need not share a column order, only the required columns.
func FromRecords(records []arrow.Record) ([]OrderLine, error) {
	var total int64
	for _, rec := range records {
		total += rec.NumRows()
	}
	lines := make([]OrderLine, 0, total)
	for i, rec := range records {
		batch, err := FromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
		lines = append(lines, batch...)
	}
	return lines, nil
}

// FromRecord validates an Arrow batch against the order-line shape and
// decodes it. Columns are resolved by name. A missing column, an
// unsupported column type or a null in a required column yields a
// ShapeError; nothing is returned on failure.
func FromRecord(rec arrow.Record) ([]OrderLine, error) {
	orderIDs, err := stringColumn(rec, ColOrderID)
	if err != nil {
		return nil, err
	}
	customers, err := stringColumn(rec, ColCustomer)
	if err != nil {
		return nil, err
	}
	timestamps, err := timeColumn(rec, ColTimestamp)
	if err != nil {
		return nil, err
	}
	prices, err := floatColumn(rec, ColPrice)
	if err != nil {
		return nil, err
	}
	items, err := intColumn(rec, ColItemID)
	if err != nil {
		return nil, err
	}
	categories, err := stringColumn(rec, ColCategory)
	if err != nil {
		return nil, err
	}

	required := []arrow.Array{orderIDs.arr, customers.arr, timestamps.arr, prices.arr, items.arr}
	for i, arr := range required {
		if n := arr.NullN(); n > 0 {
			return nil, &ShapeError{Column: RequiredColumns[i], Reason: fmt.Sprintf("%d null values", n), Row: firstNull(arr) + 1}
		}
	}

	n := int(rec.NumRows())
	lines := make([]OrderLine, n)
	for i := 0; i < n; i++ {
		line := OrderLine{
			OrderID:     orderIDs.value(i),
			CustomerID:  customers.value(i),
			PurchasedAt: timestamps.value(i),
			TotalPrice:  prices.value(i),
			ItemID:      items.value(i),
		}
		if !categories.arr.IsNull(i) {
			line.Category = Category(categories.value(i))
		}
		lines[i] = line
	}
	return lines, nil
}

type column[T any] struct {
	arr   arrow.Array
	value func(i int) T
}

func lookup(rec arrow.Record, name string) (arrow.Array, error) {
	idx := rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return nil, &ShapeError{Column: name, Reason: "missing column"}
	}
	if len(idx) > 1 {
		return nil, &ShapeError{Column: name, Reason: "duplicate column"}
	}
	return rec.Column(idx[0]), nil
}

func firstNull(arr arrow.Array) int {
	for i := 0; i < arr.Len(); i++ {
		if arr.IsNull(i) {
			return i
		}
	}
	return -1
}

func unsupported(name string, arr arrow.Array) error {
	return &ShapeError{Column: name, Reason: fmt.Sprintf("unsupported type %s", arr.DataType())}
}

func stringColumn(rec arrow.Record, name string) (column[string], error) {
	arr, err := lookup(rec, name)
	if err != nil {
		return column[string]{}, err
	}
	switch a := arr.(type) {
	case *array.String:
		return column[string]{arr, a.Value}, nil
	case *array.LargeString:
		return column[string]{arr, a.Value}, nil
	case *array.Int64:
		return column[string]{arr, func(i int) string { return strconv.FormatInt(a.Value(i), 10) }}, nil
	default:
		return column[string]{}, unsupported(name, arr)
	}
}

func timeColumn(rec arrow.Record, name string) (column[time.Time], error) {
	arr, err := lookup(rec, name)
	if err != nil {
		return column[time.Time]{}, err
	}
	switch a := arr.(type) {
	case *array.Timestamp:
		// Values keep the column's own zone so they bucket by local date.
		toTime, err := a.DataType().(*arrow.TimestampType).GetToTimeFunc()
		if err != nil {
			return column[time.Time]{}, &ShapeError{Column: name, Reason: err.Error()}
		}
		return column[time.Time]{arr, func(i int) time.Time { return toTime(a.Value(i)) }}, nil
	case *array.Date32:
		return column[time.Time]{arr, func(i int) time.Time { return a.Value(i).ToTime() }}, nil
	default:
		return column[time.Time]{}, unsupported(name, arr)
	}
}

func floatColumn(rec arrow.Record, name string) (column[float64], error) {
	arr, err := lookup(rec, name)
	if err != nil {
		return column[float64]{}, err
	}
	switch a := arr.(type) {
	case *array.Float64:
		return column[float64]{arr, a.Value}, nil
	case *array.Float32:
		return column[float64]{arr, func(i int) float64 { return float64(a.Value(i)) }}, nil
	case *array.Int64:
		return column[float64]{arr, func(i int) float64 { return float64(a.Value(i)) }}, nil
	default:
		return column[float64]{}, unsupported(name, arr)
	}
}

func intColumn(rec arrow.Record, name string) (column[int64], error) {
	arr, err := lookup(rec, name)
	if err != nil {
		return column[int64]{}, err
	}
	switch a := arr.(type) {
	case *array.Int64:
		return column[int64]{arr, a.Value}, nil
	case *array.Int32:
		return column[int64]{arr, func(i int) int64 { return int64(a.Value(i)) }}, nil
	default:
		return column[int64]{}, unsupported(name, arr)
	}
}
