// Package httpapi serves reports and Prometheus metrics over HTTP.
package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/TFMV/ordermetrics/db"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// DefaultTop is the ranking size when the request names none.
const DefaultTop = 5

// Problem represents an RFC 7807 problem details object
type Problem struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Render implements the chi render.Renderer interface
func (p Problem) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, p.Status)
	return nil
}

// BoundsView reports the days covered by the store.
type BoundsView struct {
	Lines     int    `json:"lines"`
	Customers int    `json:"customers"`
	First     string `json:"first,omitempty"`
	Last      string `json:"last,omitempty"`
}

type handler struct {
	db     *db.DB
	logger *zap.Logger
}

// NewRouter builds the HTTP API over database.
func NewRouter(database *db.DB, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{db: database, logger: logger.Named("http")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Get("/bounds", h.bounds)
		r.Get("/report", h.report)
		r.Get("/customers/{customerID}", h.customer)
	})
	return r
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

func (h *handler) bounds(w http.ResponseWriter, r *http.Request) {
	view := BoundsView{Lines: h.db.Len(), Customers: h.db.Customers()}
	if first, last, ok := h.db.Bounds(); ok {
		view.First = first.Format(time.DateOnly)
		view.Last = last.Format(time.DateOnly)
	}
	render.JSON(w, r, view)
}

// dateRange parses the start and end query parameters, writing a 400 and
// returning false when they are malformed.
func (h *handler) dateRange(w http.ResponseWriter, r *http.Request) (start, end time.Time, ok bool) {
	q := r.URL.Query()
	start, err := parseDay(q.Get("start"))
	if err != nil {
		h.badRequest(w, r, fmt.Sprintf("start: %v", err))
		return start, end, false
	}
	end, err = parseDay(q.Get("end"))
	if err != nil {
		h.badRequest(w, r, fmt.Sprintf("end: %v", err))
		return start, end, false
	}
	if !start.IsZero() && !end.IsZero() && start.After(end) {
		h.badRequest(w, r, "start is after end")
		return start, end, false
	}
	return start, end, true
}

func (h *handler) report(w http.ResponseWriter, r *http.Request) {
	start, end, ok := h.dateRange(w, r)
	if !ok {
		return
	}
	top := DefaultTop
	if s := r.URL.Query().Get("top"); s != "" {
		var err error
		if top, err = strconv.Atoi(s); err != nil || top < 0 {
			h.badRequest(w, r, "top must be a non-negative integer")
			return
		}
	}

	report, err := h.db.Report(r.Context(), start, end)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	render.JSON(w, r, NewReportView(report, start, end, top))
}

// customer returns one customer's lines and RFM row. Recency is relative to
// the latest purchase day of the whole range, as in the report.
func (h *handler) customer(w http.ResponseWriter, r *http.Request) {
	start, end, ok := h.dateRange(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "customerID")

	lines := h.db.QueryByCustomer(id, start, end)
	if len(lines) == 0 {
		_ = render.Render(w, r, Problem{
			Title:  http.StatusText(http.StatusNotFound),
			Status: http.StatusNotFound,
			Detail: fmt.Sprintf("no purchases for customer %q in range", id),
		})
		return
	}

	report, err := h.db.Report(r.Context(), start, end)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	rfm, found := report.Customer(id)
	if !found {
		h.internalError(w, r, fmt.Errorf("customer %q missing from report", id))
		return
	}
	render.JSON(w, r, NewCustomerView(rfm, lines))
}

func (h *handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	_ = render.Render(w, r, Problem{
		Title:  http.StatusText(http.StatusInternalServerError),
		Status: http.StatusInternalServerError,
	})
}

func (h *handler) badRequest(w http.ResponseWriter, r *http.Request, detail string) {
	_ = render.Render(w, r, Problem{
		Title:  http.StatusText(http.StatusBadRequest),
		Status: http.StatusBadRequest,
		Detail: detail,
	})
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, s)
}
