// Package httpapi serves a catalog over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/txdict/internal/catalog"
	"github.com/roach88/txdict/internal/txdict"
)

// maxBody bounds request bodies.
const maxBody = 4 << 20

// Options configures NewServer.
type Options struct {
	Logger *slog.Logger
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

type server struct {
	catalog *catalog.Catalog
	logger  *slog.Logger
}

// NewServer wires the catalog handlers into a router and exposes a health
// check.
func NewServer(c *catalog.Catalog, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &server{catalog: c, logger: opts.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Get("/dicts", s.handleNames)
	r.Post("/batch", s.handleBatch)
	r.Route("/dicts/{dict}", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/", s.handleAdd)
		r.Get("/{key}", s.handleGet)
		r.Put("/{key}", s.handlePut)
		r.Patch("/{key}", s.handlePatch)
		r.Delete("/{key}", s.handleDelete)
	})
	return r
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			"elapsed", time.Since(start))
	})
}

// documentBody is the request body of single-document writes.
type documentBody struct {
	Key  string         `json:"key,omitempty"`
	Data map[string]any `json:"data"`
}

func (s *server) handleNames(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"dictionaries": s.catalog.Names()})
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	docs, err := s.catalog.List(r.Context(), chi.URLParam(r, "dict"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	doc, err := s.catalog.Get(r.Context(), chi.URLParam(r, "dict"), chi.URLParam(r, "key"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleAdd inserts a document, generating its key when none is given.
// ?try=true reports an existing key as succeeded=false with 200 instead
// of 409.
func (s *server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var body documentBody
	if !decodeBody(w, r, &body) {
		return
	}
	kind := txdict.KindAdd
	if tryParam(r) {
		kind = txdict.KindTryAdd
	}
	s.applyOne(w, r, catalog.Op{
		Dictionary: chi.URLParam(r, "dict"),
		Kind:       kind,
		Key:        body.Key,
		Data:       body.Data,
	}, http.StatusCreated)
}

// handlePut replaces the document under key, inserting it if absent.
func (s *server) handlePut(w http.ResponseWriter, r *http.Request) {
	var body documentBody
	if !decodeBody(w, r, &body) {
		return
	}
	s.applyOne(w, r, catalog.Op{
		Dictionary: chi.URLParam(r, "dict"),
		Kind:       txdict.KindAddOrUpdate,
		Key:        chi.URLParam(r, "key"),
		Data:       body.Data,
	}, http.StatusOK)
}

// handlePatch merges the body into the existing document.
func (s *server) handlePatch(w http.ResponseWriter, r *http.Request) {
	var body documentBody
	if !decodeBody(w, r, &body) {
		return
	}
	kind := txdict.KindUpdate
	if tryParam(r) {
		kind = txdict.KindTryUpdate
	}
	s.applyOne(w, r, catalog.Op{
		Dictionary: chi.URLParam(r, "dict"),
		Kind:       kind,
		Key:        chi.URLParam(r, "key"),
		Data:       body.Data,
		Merge:      true,
	}, http.StatusOK)
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	kind := txdict.KindRemove
	if tryParam(r) {
		kind = txdict.KindTryRemove
	}
	s.applyOne(w, r, catalog.Op{
		Dictionary: chi.URLParam(r, "dict"),
		Kind:       kind,
		Key:        chi.URLParam(r, "key"),
	}, http.StatusOK)
}

func (s *server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var ops []catalog.Op
	if !decodeBody(w, r, &ops) {
		return
	}
	results, err := s.catalog.Apply(r.Context(), ops)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *server) applyOne(w http.ResponseWriter, r *http.Request, op catalog.Op, status int) {
	results, err := s.catalog.Apply(r.Context(), []catalog.Op{op})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	res := results[0]
	if !res.Succeeded {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func tryParam(r *http.Request) bool {
	ok, _ := strconv.ParseBool(r.URL.Query().Get("try"))
	return ok
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "", "invalid request body: "+err.Error())
		return false
	}
	return true
}

// statusOf maps an apply or read failure to an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, catalog.ErrUnknownDictionary):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrInvalidOp):
		return http.StatusBadRequest
	}
	switch txdict.CodeOf(err) {
	case txdict.ErrCodeConflict:
		return http.StatusConflict
	case txdict.ErrCodeNotFound:
		return http.StatusNotFound
	case txdict.ErrCodeKeyMismatch, txdict.ErrCodeInvalid:
		return http.StatusBadRequest
	case txdict.ErrCodeMapping:
		return http.StatusUnprocessableEntity
	case txdict.ErrCodeSessionClosed, txdict.ErrCodeRolledBack:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) writeFailure(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeError(w, status, string(txdict.CodeOf(err)), err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	body := map[string]string{"error": message}
	if code != "" {
		body["code"] = code
	}
	writeJSON(w, status, body)
}
