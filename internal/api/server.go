// Package api is the HTTP transport for the detection engine: session
// lifecycle, frame submission, batch scans, the live event stream and the
// catalog and manifest collaborators.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/banshee-data/cartvision/internal/alerts"
	"github.com/banshee-data/cartvision/internal/catalog"
	"github.com/banshee-data/cartvision/internal/classifier"
	"github.com/banshee-data/cartvision/internal/db"
	"github.com/banshee-data/cartvision/internal/engine"
	"github.com/banshee-data/cartvision/internal/events"
	"github.com/banshee-data/cartvision/internal/monitoring"
	"github.com/banshee-data/cartvision/internal/reconcile"
	"github.com/banshee-data/cartvision/internal/session"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// DefaultMaxFrameBytes caps uploaded frames and scan images.
const DefaultMaxFrameBytes = 8 << 20

// Engine is the part of *engine.Engine the server drives.
type Engine interface {
	StartSession(ctx context.Context, id string, opts ...engine.SessionOption) (string, error)
	SubmitFrame(ctx context.Context, id, frameID string, image []byte) ([]events.Detection, error)
	SubmitDetections(ctx context.Context, id, frameID string, raw []byte) ([]events.Detection, error)
	EndSession(ctx context.Context, id string) (events.Summary, error)
	Scan(ctx context.Context, image []byte, manifest []reconcile.ManifestLine) (engine.ScanResult, error)
	ActiveSessions() []string
}

// Stream is the live event fan-out, normally a *notify.Hub.
type Stream interface {
	Subscribe() (string, <-chan events.Message)
	Unsubscribe(id string)
}

// Store is the persistence the server reads from and writes catalog and
// manifest data to, normally a *db.DB.
type Store interface {
	Products(ctx context.Context) ([]catalog.Entry, error)
	ImportProducts(ctx context.Context, entries []catalog.Entry) error
	Manifest(ctx context.Context, manifestID string) ([]reconcile.ManifestLine, error)
	ReplaceManifest(ctx context.Context, manifestID string, lines []reconcile.ManifestLine) error
	Session(ctx context.Context, sessionID string) (db.SessionRecord, error)
	SessionEvents(ctx context.Context, sessionID string) ([]events.Detection, error)
	SessionDiff(ctx context.Context, sessionID string) ([]reconcile.DiffResult, error)
	SessionAlerts(ctx context.Context, sessionID string) ([]alerts.AlertRecord, error)
	RecentSessions(ctx context.Context, limit int) ([]string, error)
}

// Server serves the HTTP API. Stream and Store are optional; their routes
// answer 404 when absent.
type Server struct {
	engine Engine
	stream Stream
	store  Store

	// MaxFrameBytes caps request bodies carrying images.
	MaxFrameBytes int64
	// StreamPing is the keep-alive interval of the event stream.
	StreamPing time.Duration
}

// NewServer creates a server around eng.
func NewServer(eng Engine, stream Stream, store Store) *Server {
	return &Server{
		engine:        eng,
		stream:        stream,
		store:         store,
		MaxFrameBytes: DefaultMaxFrameBytes,
		StreamPing:    15 * time.Second,
	}
}

// Router returns the API routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.health).Methods(http.MethodGet)

	api.HandleFunc("/sessions", s.listSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.startSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.getSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/frames", s.submitFrame).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/detections", s.submitDetections).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/end", s.endSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/stream", s.streamSession).Methods(http.MethodGet)

	api.HandleFunc("/scan", s.scan).Methods(http.MethodPost)

	api.HandleFunc("/products", s.listProducts).Methods(http.MethodGet)
	api.HandleFunc("/products", s.importProducts).Methods(http.MethodPut)
	api.HandleFunc("/manifests/{id}", s.getManifest).Methods(http.MethodGet)
	api.HandleFunc("/manifests/{id}", s.putManifest).Methods(http.MethodPut)

	return r
}

// Handler wraps Router with panic recovery, CORS for allowedOrigins and
// request logging.
func (s *Server) Handler(allowedOrigins []string) http.Handler {
	var h http.Handler = s.Router()
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{}),
		handlers.PrintRecoveryStack(true),
	)(h)
	if len(allowedOrigins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(allowedOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		)(h)
	}
	return LoggingMiddleware(h)
}

type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	monitoring.Warnf("http handler panic: %v", v)
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// statusFor maps engine and store errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrSessionNotFound), errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, reconcile.ErrInvalidManifest):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrSessionExists):
		return http.StatusConflict
	case errors.Is(err, engine.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, classifier.ErrTransient):
		return http.StatusBadGateway
	case errors.Is(err, engine.ErrNoClassifier):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
