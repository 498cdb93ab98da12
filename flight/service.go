// Package flight serves order analytics tables over Arrow Flight.
package flight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/TFMV/ordermetrics/auth"
	"github.com/TFMV/ordermetrics/db"
	"github.com/TFMV/ordermetrics/query"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UserHeader is the metadata key carrying the calling user.
const UserHeader = "x-user"

// PutResult is returned in the app metadata of a DoPut result.
type PutResult struct {
	Records int   `json:"records"`
	Rows    int64 `json:"rows"`
}

// OrderFlightService exposes report tables through DoGet and accepts
// order-line batches through DoPut.
type OrderFlightService struct {
	flight.BaseFlightServer
	db     *db.DB
	roles  auth.RoleManager
	mem    memory.Allocator
	logger *zap.Logger
}

// NewOrderFlightService creates the service. A nil role manager disables
// authorization.
func NewOrderFlightService(database *db.DB, roles auth.RoleManager, logger *zap.Logger) *OrderFlightService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderFlightService{
		db:     database,
		roles:  roles,
		mem:    memory.NewGoAllocator(),
		logger: logger.Named("flight"),
	}
}

// NewServer initializes a Flight server on addr with the service
// registered. The caller runs Serve and Shutdown.
func NewServer(addr string, svc *OrderFlightService) (flight.Server, error) {
	srv := flight.NewServerWithMiddleware([]flight.ServerMiddleware{
		{Stream: svc.logStream},
	})
	if err := srv.Init(addr); err != nil {
		return nil, fmt.Errorf("failed to init flight server: %w", err)
	}
	srv.RegisterFlightService(svc)
	return srv, nil
}

func (s *OrderFlightService) logStream(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	err := handler(srv, ss)
	if err != nil {
		s.logger.Warn("flight call failed", zap.String("method", info.FullMethod), zap.Error(err))
	} else {
		s.logger.Debug("flight call", zap.String("method", info.FullMethod))
	}
	return err
}

func (s *OrderFlightService) authorize(ctx context.Context) error {
	if s.roles == nil {
		return nil
	}
	var user string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if users := md.Get(UserHeader); len(users) > 0 {
			user = users[0]
		}
	}
	if user == "" {
		return status.Error(codes.Unauthenticated, "missing "+UserHeader)
	}
	if !s.roles.HasRole(user, auth.RoleAnalyst) {
		return status.Errorf(codes.PermissionDenied, "user %q lacks role %q", user, auth.RoleAnalyst)
	}
	return nil
}

func (s *OrderFlightService) DoGet(ticket *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	ctx := stream.Context()
	if err := s.authorize(ctx); err != nil {
		return err
	}

	t, err := decodeTicket(ticket.GetTicket())
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid ticket: %v", err)
	}
	if _, err := query.TableSchema(t.Table); err != nil {
		return toStatus(err)
	}
	start, end, err := t.Range()
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid ticket: %v", err)
	}

	report, err := s.db.Report(ctx, start, end)
	if err != nil {
		return toStatus(err)
	}
	rec, err := report.Table(t.Table, s.mem)
	if err != nil {
		return toStatus(err)
	}
	defer rec.Release()

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(s.mem))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return status.Errorf(codes.Internal, "failed to write record: %v", err)
	}
	if err := writer.Close(); err != nil {
		return status.Errorf(codes.Internal, "failed to close writer: %v", err)
	}
	return nil
}

// DoPut ingests every batch of the stream. Batches are ingested as they
// arrive; a rejected batch stops the stream but earlier batches stay.
func (s *OrderFlightService) DoPut(stream flight.FlightService_DoPutServer) error {
	if err := s.authorize(stream.Context()); err != nil {
		return err
	}

	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.mem))
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "failed to create reader: %v", err)
	}
	defer reader.Release()

	var result PutResult
	for reader.Next() {
		rec := reader.Record()
		if err := s.db.Ingest(rec); err != nil {
			return toStatus(fmt.Errorf("batch %d: %w", result.Records, err))
		}
		result.Records++
		result.Rows += rec.NumRows()
	}
	if err := reader.Err(); err != nil {
		return status.Errorf(codes.Internal, "stream error: %v", err)
	}

	s.logger.Info("ingested via flight", zap.Int("records", result.Records), zap.Int64("rows", result.Rows))
	meta, err := json.Marshal(result)
	if err != nil {
		return status.Errorf(codes.Internal, "failed to encode result: %v", err)
	}
	return stream.Send(&flight.PutResult{AppMetadata: meta})
}

func (s *OrderFlightService) ListFlights(_ *flight.Criteria, stream flight.FlightService_ListFlightsServer) error {
	if err := s.authorize(stream.Context()); err != nil {
		return err
	}
	for _, name := range query.TableNames {
		info, err := s.flightInfo(name)
		if err != nil {
			return err
		}
		if err := stream.Send(info); err != nil {
			return err
		}
	}
	return nil
}

// GetFlightInfo describes the table named by a single-element path
// descriptor.
func (s *OrderFlightService) GetFlightInfo(ctx context.Context, desc *flight.FlightDescriptor) (*flight.FlightInfo, error) {
	if err := s.authorize(ctx); err != nil {
		return nil, err
	}
	if desc.GetType() != flight.DescriptorPATH || len(desc.GetPath()) != 1 {
		return nil, status.Error(codes.InvalidArgument, "descriptor must be a single-element path")
	}
	return s.flightInfo(desc.GetPath()[0])
}

func (s *OrderFlightService) flightInfo(name string) (*flight.FlightInfo, error) {
	schema, err := query.TableSchema(name)
	if err != nil {
		return nil, toStatus(err)
	}
	ticket, err := encodeTicket(Ticket{Table: name})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode ticket: %v", err)
	}
	return &flight.FlightInfo{
		Schema: flight.SerializeSchema(schema, s.mem),
		FlightDescriptor: &flight.FlightDescriptor{
			Type: flight.DescriptorPATH,
			Path: []string{name},
		},
		Endpoint:     []*flight.FlightEndpoint{{Ticket: ticket}},
		TotalRecords: -1,
		TotalBytes:   -1,
	}, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, query.ErrInvalidInputShape):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, query.ErrUnknownTable):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
