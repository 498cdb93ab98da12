package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/TFMV/ordermetrics/auth"
	"github.com/TFMV/ordermetrics/config"
	"github.com/TFMV/ordermetrics/db"
	ordersflight "github.com/TFMV/ordermetrics/flight"
	"github.com/TFMV/ordermetrics/httpapi"
	"github.com/TFMV/ordermetrics/storage"
	"github.com/docopt/docopt.go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const version = "ordermetrics 1.0.0"

const usage = `Order analytics engine.

Usage:
  ordermetrics report --data=<uri> [--start=<date>] [--end=<date>] [--top=<n>] [--config=<file>]
  ordermetrics convert --data=<uri> --out=<file> [--config=<file>]
  ordermetrics serve [--data=<uri>] [--flight-addr=<addr>] [--http-addr=<addr>] [--config=<file>]
  ordermetrics (-h | --help)
  ordermetrics --version

Options:
  -h --help             Show this screen.
  --version             Show version.
  --data=<uri>          Order lines: a CSV file, an Arrow IPC file or gs://bucket/object.
  --start=<date>        First purchase day to include, YYYY-MM-DD.
  --end=<date>          Last purchase day to include, YYYY-MM-DD.
  --top=<n>             Size of each ranking [default: 5].
  --out=<file>          Arrow IPC file to write.
  --flight-addr=<addr>  Arrow Flight listen address.
  --http-addr=<addr>    HTTP listen address.
  --config=<file>       YAML configuration file.
`

func main() {
	arguments, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing arguments: %v\n", err)
		os.Exit(1)
	}

	// Cancel on SIGINT/SIGTERM for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, arguments, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "ordermetrics: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func optString(opts docopt.Opts, key string) string {
	s, _ := opts.String(key)
	return s
}

func run(ctx context.Context, opts docopt.Opts, stdout io.Writer) error {
	cfg, err := config.Load(optString(opts, "--config"))
	if err != nil {
		return err
	}
	if s := optString(opts, "--data"); s != "" {
		cfg.Data = s
	}
	if s := optString(opts, "--flight-addr"); s != "" {
		cfg.Flight.Addr = s
	}
	if s := optString(opts, "--http-addr"); s != "" {
		cfg.HTTP.Addr = s
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Initialize zap logger.
	logger, err := cfg.Log.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	database := db.NewDB(db.Options{CacheSize: cfg.CacheSize, Logger: logger})
	defer database.Close()

	store, closeStore, err := newStorage(ctx, cfg, database, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	switch {
	case isCommand(opts, "report"):
		return runReport(ctx, opts, cfg, store, database, stdout)
	case isCommand(opts, "convert"):
		if err := store.Load(ctx, cfg.Data); err != nil {
			return err
		}
		return store.SaveToDisk(optString(opts, "--out"))
	case isCommand(opts, "serve"):
		return runServe(ctx, cfg, store, database, logger)
	}
	return fmt.Errorf("no command given")
}

func isCommand(opts docopt.Opts, name string) bool {
	ok, _ := opts.Bool(name)
	return ok
}

// newStorage wires the GCS opener only for gs:// datasets, so local runs
// need no cloud credentials.
func newStorage(ctx context.Context, cfg *config.Config, database *db.DB, logger *zap.Logger) (*storage.Storage, func(), error) {
	opts := []storage.Option{
		storage.WithLogger(logger.Named("storage")),
		storage.WithChunkSize(cfg.CSVChunkSize),
	}
	closeFn := func() {}
	if strings.HasPrefix(cfg.Data, "gs://") {
		opener, err := storage.NewGCSOpener(ctx, storage.GCSConfig{
			CredentialsFile: cfg.GCS.CredentialsFile,
			Timeout:         cfg.GCS.Timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		closeFn = func() {
			_ = opener.Close()
		}
		guarded := storage.WithBreaker(opener, cfg.GCS.MaxFailures, cfg.GCS.Cooldown)
		opts = append(opts, storage.WithObjectOpener(guarded))
	}
	return storage.NewStorage(database, opts...), closeFn, nil
}

func runReport(ctx context.Context, opts docopt.Opts, cfg *config.Config, store *storage.Storage, database *db.DB, stdout io.Writer) error {
	start, err := parseDay(optString(opts, "--start"))
	if err != nil {
		return fmt.Errorf("invalid --start: %w", err)
	}
	end, err := parseDay(optString(opts, "--end"))
	if err != nil {
		return fmt.Errorf("invalid --end: %w", err)
	}
	top, err := opts.Int("--top")
	if err != nil || top < 0 {
		return fmt.Errorf("invalid --top: must be a non-negative integer")
	}

	if err := store.Load(ctx, cfg.Data); err != nil {
		return err
	}
	report, err := database.Report(ctx, start, end)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(httpapi.NewReportView(report, start, end, top))
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, s)
}

func runServe(ctx context.Context, cfg *config.Config, store *storage.Storage, database *db.DB, logger *zap.Logger) error {
	if cfg.Data != "" {
		if err := store.Load(ctx, cfg.Data); err != nil {
			return err
		}
	}

	var roles auth.RoleManager
	if len(cfg.Users) > 0 {
		roles = auth.NewStatic(cfg.Users)
	}
	svc := ordersflight.NewOrderFlightService(database, roles, logger)
	flightServer, err := ordersflight.NewServer(cfg.Flight.Addr, svc)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.NewRouter(database, logger),
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
	}

	logger.Info("Starting ordermetrics",
		zap.String("flight_addr", flightServer.Addr().String()),
		zap.String("http_addr", cfg.HTTP.Addr),
		zap.Int("order_lines", database.Len()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return flightServer.Serve()
	})
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down", zap.Error(context.Cause(gctx)))
		flightServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
