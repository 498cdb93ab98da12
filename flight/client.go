package flight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// ---------------------------------------------------------------------
// Flight Client
// ---------------------------------------------------------------------

// FlightClient wraps an Apache Arrow Flight client to query report tables
// and ingest order lines.
type FlightClient struct {
	client flight.Client
	user   string
}

// NewFlightClient creates a Flight client using NewClientWithMiddleware.
// A non-empty user is sent with every call.
func NewFlightClient(addr, user string) (*FlightClient, error) {
	client, err := flight.NewClientWithMiddleware(addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create flight client: %w", err)
	}

	return &FlightClient{
		client: client,
		user:   user,
	}, nil
}

func (c *FlightClient) outgoing(ctx context.Context) context.Context {
	if c.user == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, UserHeader, c.user)
}

// Query fetches one report table. The caller must Release every record.
func (c *FlightClient) Query(ctx context.Context, t Ticket) ([]arrow.Record, error) {
	ticket, err := encodeTicket(t)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ticket: %w", err)
	}
	stream, err := c.client.DoGet(c.outgoing(ctx), ticket)
	if err != nil {
		return nil, fmt.Errorf("DoGet failed: %w", err)
	}

	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer reader.Release()
	return readAllRecords(reader)
}

// Ingest uses DoPut to send records to the Flight service for ingestion.
// All records must share one schema.
func (c *FlightClient) Ingest(ctx context.Context, records []arrow.Record) (PutResult, error) {
	var result PutResult
	if len(records) == 0 {
		return result, nil
	}
	putStream, err := c.client.DoPut(c.outgoing(ctx))
	if err != nil {
		return result, fmt.Errorf("DoPut failed: %w", err)
	}

	writer := flight.NewRecordWriter(putStream, ipc.WithSchema(records[0].Schema()))
	for _, rec := range records {
		if err := writer.Write(rec); err != nil {
			_ = writer.Close()
			// The server's status explains a broken stream better than
			// the send error does.
			if _, rerr := putStream.Recv(); rerr != nil && !errors.Is(rerr, io.EOF) {
				return result, rerr
			}
			return result, fmt.Errorf("failed to send record: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return result, fmt.Errorf("failed to close writer: %w", err)
	}
	if err := putStream.CloseSend(); err != nil {
		return result, fmt.Errorf("failed to close stream: %w", err)
	}

	res, err := putStream.Recv()
	if err != nil {
		return result, err
	}
	if len(res.GetAppMetadata()) > 0 {
		if err := json.Unmarshal(res.GetAppMetadata(), &result); err != nil {
			return result, fmt.Errorf("failed to decode put result: %w", err)
		}
	}
	return result, nil
}

// ListTables returns the table names the server offers.
func (c *FlightClient) ListTables(ctx context.Context) ([]string, error) {
	stream, err := c.client.ListFlights(c.outgoing(ctx), &flight.Criteria{})
	if err != nil {
		return nil, fmt.Errorf("ListFlights failed: %w", err)
	}
	var names []string
	for {
		info, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return names, nil
		}
		if err != nil {
			return nil, err
		}
		if path := info.GetFlightDescriptor().GetPath(); len(path) > 0 {
			names = append(names, path[0])
		}
	}
}

// Close closes the underlying connection.
func (c *FlightClient) Close() error {
	return c.client.Close()
}

// readAllRecords pulls all available RecordBatches from a DoGet stream.
func readAllRecords(stream *flight.Reader) ([]arrow.Record, error) {
	var result []arrow.Record
	for stream.Next() {
		rec := stream.Record()
		// Retain the record so it's safe to use after Next() call
		rec.Retain()
		result = append(result, rec)
	}
	if err := stream.Err(); err != nil && !errors.Is(err, io.EOF) {
		for _, rec := range result {
			rec.Release()
		}
		return nil, fmt.Errorf("error reading from flight stream: %w", err)
	}
	return result, nil
}
