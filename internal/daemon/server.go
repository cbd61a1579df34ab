package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"conveyor/internal/api"
	"conveyor/internal/logging"
	"conveyor/internal/services"
	"conveyor/internal/store"
)

const (
	minBodyLimit     = 1 << 20
	defaultPageLimit = 100
	maxPageLimit     = 1000
	requestIDHeader  = "X-Request-Id"
	textContentType  = "text/plain; charset=utf-8"
	jsonContentType  = "application/json"
)

// requestError is a 400 whose message goes back to the client verbatim.
type requestError struct {
	msg   string
	cause error
}

func (e *requestError) Error() string { return e.msg }

func (e *requestError) Unwrap() []error {
	if e.cause == nil {
		return []error{services.ErrValidation}
	}
	return []error{services.ErrValidation, e.cause}
}

func badRequest(msg string, cause error) error {
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return &requestError{msg: msg, cause: cause}
}

func (d *Daemon) routes() http.Handler {
	mux := http.NewServeMux()
	d.route(mux, "GET /{$}", "ping", d.handlePing)
	d.route(mux, "POST "+api.PathGetDocument, "getDocument", d.handleGetDocument)
	d.route(mux, "POST "+api.PathWrite, "write", d.handleWrite)
	d.route(mux, "POST "+api.PathRelease, "release", d.handleRelease)
	d.route(mux, "POST "+api.PathMarkProcessed, "markProcessed", d.transitionHandler(transitionProcessed))
	d.route(mux, "POST "+api.PathMarkDiscarded, "markDiscarded", d.transitionHandler(transitionDiscarded))
	d.route(mux, "POST "+api.PathMarkFailed, "markFailed", d.transitionHandler(transitionFailed))
	d.route(mux, "POST "+api.PathMarkPending, "markPending", d.transitionHandler(transitionPending))
	d.route(mux, "GET "+api.PathGetProperties, "getProperties", d.handleGetProperties)
	d.route(mux, "GET "+api.PathFile, "getFile", d.handleGetFile)
	d.route(mux, "POST "+api.PathFile, "saveFile", d.handleSaveFile)
	d.route(mux, "DELETE "+api.PathFile, "deleteFile", d.handleDeleteFile)
	d.route(mux, "GET "+api.PathStatus, "status", d.handleStatus)
	d.route(mux, "GET "+api.PathDocument, "document", d.handleDocument)
	d.route(mux, "GET "+api.PathArchive, "archive", d.handleArchive)
	mux.Handle("GET "+api.PathMetrics, d.metrics.handler())

	return d.accessMiddleware(d.aliveMiddleware(mux))
}

// route registers h under pattern with request ids, metrics and panic
// recovery.
func (d *Daemon) route(mux *http.ServeMux, pattern, endpoint string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		r = r.WithContext(services.WithRequestID(r.Context(), requestID))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		rec.Header().Set(requestIDHeader, requestID)

		defer func() {
			if p := recover(); p != nil {
				logging.ErrorWithContext(logging.WithContext(r.Context(), d.logger), "request handler panicked", "handler_panic",
					logging.String("endpoint", endpoint),
					logging.Any("panic", p),
					logging.String(logging.FieldErrorHint, "report the request that triggered it"),
				)
				if !rec.wrote {
					writeText(rec, http.StatusInternalServerError, "Internal error")
				}
			}
			d.metrics.requests.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
			d.metrics.duration.WithLabelValues(endpoint).Observe(time.Since(started).Seconds())
		}()
		h(rec, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wrote {
		r.status = code
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	r.wrote = true
	return r.ResponseWriter.Write(p)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func writeText(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", textContentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, message)
}

func (d *Daemon) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		d.logger.Error("failed to encode response",
			logging.Error(err),
			logging.Event("encode_failed"),
			logging.String(logging.FieldErrorHint, "client likely disconnected"),
		)
	}
}

// writeError maps err onto a status code and a short body.
func (d *Daemon) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(r.Context(), d.logger), "request failed", "request_failed",
			logging.String("path", r.URL.Path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check store health and disk space"),
		)
	}
	writeText(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrDocumentTooLarge),
		errors.Is(err, store.ErrInvalidField),
		errors.Is(err, store.ErrMissingID),
		errors.Is(err, store.ErrDuplicateID):
		return http.StatusBadRequest
	default:
		return services.HTTPStatus(err)
	}
}

func requireParam(r *http.Request, name string) (string, error) {
	value := strings.TrimSpace(r.URL.Query().Get(name))
	if value == "" {
		return "", badRequest(fmt.Sprintf("Parameter '%s' is missing from request URI", name), nil)
	}
	return value, nil
}

// requireFlag reads a 0/1 parameter that must be present.
func requireFlag(r *http.Request, name string) (bool, error) {
	value, err := requireParam(r, name)
	if err != nil {
		return false, err
	}
	return parseFlag(name, value)
}

func optionalFlag(r *http.Request, name string) (bool, error) {
	value := strings.TrimSpace(r.URL.Query().Get(name))
	if value == "" {
		return false, nil
	}
	return parseFlag(name, value)
}

func parseFlag(name, value string) (bool, error) {
	switch strings.ToLower(value) {
	case "1", "true":
		return true, nil
	case "0", "false":
		return false, nil
	default:
		return false, badRequest(fmt.Sprintf("Parameter '%s' must be 0 or 1", name), nil)
	}
}

func optionalInt(r *http.Request, name string, fallback int64) (int64, error) {
	value := strings.TrimSpace(r.URL.Query().Get(name))
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, badRequest(fmt.Sprintf("Parameter '%s' must be an integer", name), nil)
	}
	return n, nil
}

// readBody reads the request body up to a limit derived from the document
// size bound.
func (d *Daemon) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	limit := int64(d.cfg.Store.MaxDocumentBytes) * 2
	if limit < minBodyLimit {
		limit = minBodyLimit
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: request body exceeds %d bytes", store.ErrDocumentTooLarge, tooLarge.Limit)
		}
		return nil, badRequest("Unable to read request body", err)
	}
	return data, nil
}
