package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/kbase/caching-service/auth"
	"github.com/kbase/caching-service/cache"
	"github.com/kbase/caching-service/cache/lifecycle"
	"github.com/kbase/caching-service/utils/tempfile"

	"github.com/google/uuid"
)

// maxParamsSize bounds the JSON body of a cache ID reservation.
const maxParamsSize = 1 << 20

// HTTPCache serves the cache API over HTTP.
type HTTPCache interface {
	Handler(resolver auth.Resolver) http.Handler
	RootHandler(w http.ResponseWriter, r *http.Request)
	StatusPageHandler(w http.ResponseWriter, r *http.Request)
}

type httpCache struct {
	lm           *lifecycle.Manager
	maxBlobSize  int64
	tmpDir       string
	tfc          *tempfile.Creator
	accessLogger cache.Logger
	errorLogger  cache.Logger
}

type statusPageData struct {
	Status     string `json:"status"`
	ServerTime int64  `json:"server_time"`
	Backend    string `json:"backend"`
}

// NewHTTPCache returns a new instance of the cache API.
// accessLogger will print one line for each HTTP request to stdout.
// errorLogger will print unexpected server errors. Missing entries, wrong
// owners and malformed requests will not be reported.
func NewHTTPCache(lm *lifecycle.Manager, maxBlobSize int64, accessLogger cache.Logger, errorLogger cache.Logger) HTTPCache {
	errorLogger.Printf("Serving cache entries from %s", cache.Describe(lm.BlobStore()))

	return &httpCache{
		lm:           lm,
		maxBlobSize:  maxBlobSize,
		tmpDir:       os.TempDir(),
		tfc:          tempfile.NewCreator(),
		accessLogger: accessLogger,
		errorLogger:  errorLogger,
	}
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.code == 0 {
		s.code = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	if s.code == 0 {
		s.code = http.StatusOK
	}
	return s.ResponseWriter.Write(p)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Handler returns the routes of the cache API, served at the root and
// under /v1. Cache routes require an identity resolved by resolver.
func (h *httpCache) Handler(resolver auth.Resolver) http.Handler {
	authed := auth.Middleware(resolver, h.writeError)

	api := http.NewServeMux()
	api.HandleFunc("GET /{$}", h.RootHandler)
	api.HandleFunc("GET /status", h.StatusPageHandler)
	api.Handle("POST /cache_id", authed(http.HandlerFunc(h.reserveHandler)))
	api.Handle("GET /cache/{id}", authed(http.HandlerFunc(h.fetchHandler)))
	api.Handle("POST /cache/{id}", authed(http.HandlerFunc(h.storeHandler)))
	api.Handle("DELETE /cache/{id}", authed(http.HandlerFunc(h.deleteHandler)))

	mux := http.NewServeMux()
	mux.Handle("/v1/", http.StripPrefix("/v1", api))
	mux.Handle("/", api)

	return h.logged(mux)
}

// logged assigns every request an ID and writes one access log line once
// the response is complete.
func (h *httpCache) logged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))

		code := rec.code
		if code == 0 {
			code = http.StatusOK
		}
		h.logResponse(r, code)
	})
}

func (h *httpCache) logResponse(r *http.Request, code int) {
	// Parse the client ip:port
	clientAddress, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		clientAddress = r.RemoteAddr
	}
	h.accessLogger.Printf("%4s %d %15s %s", r.Method, code, clientAddress, r.URL.Path)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// writeError reports err to the client. Unexpected errors are logged with
// the request details and replaced by a generic message.
func (h *httpCache) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := cache.StatusOf(err)
	msg := err.Error()

	var cerr *cache.Error
	if errors.As(err, &cerr) && cerr.Text != "" {
		msg = cerr.Text
	}

	if code == http.StatusInternalServerError {
		h.errorLogger.Printf("%s %s [%s]: %v", r.Method, r.URL.Path, requestID(r.Context()), err)
		msg = "Unexpected server error"
	}

	writeJSON(w, code, errorResponse{Status: "error", Error: msg})
}

func identity(r *http.Request) string {
	id, _ := auth.IdentityFrom(r.Context())
	return id
}

// RootHandler lists the routes of the API.
func (h *httpCache) RootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"routes": map[string]string{
			"root":         "GET /",
			"status":       "GET /status",
			"generate_id":  "POST /cache_id",
			"download":     "GET /cache/<cache_id>",
			"upload":       "POST /cache/<cache_id>",
			"delete":       "DELETE /cache/<cache_id>",
			"api_v1_alias": "/v1",
		},
	})
}

// Produce a status page with the server time and the storage backend.
func (h *httpCache) StatusPageHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	_ = enc.Encode(statusPageData{
		Status:     "ok",
		ServerTime: time.Now().Unix(),
		Backend:    cache.Describe(h.lm.BlobStore()),
	})
}

func (h *httpCache) reserveHandler(w http.ResponseWriter, r *http.Request) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		h.writeError(w, r, cache.Errorf(cache.KindMalformedRequest, "Content-type must be application/json"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxParamsSize+1))
	if err != nil {
		h.writeError(w, r, cache.Wrap(cache.KindMalformedRequest, "Failed to read request body", err))
		return
	}
	if len(body) > maxParamsSize {
		h.writeError(w, r, cache.Errorf(cache.KindTooBig, "Request body larger than %d bytes", maxParamsSize))
		return
	}

	id, md, err := h.lm.ReserveJSON(r.Context(), identity(r), body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cache_id": id,
		"status":   "ok",
		"metadata": md,
	})
}

func (h *httpCache) fetchHandler(w http.ResponseWriter, r *http.Request) {
	dl, err := h.lm.Fetch(r.Context(), r.PathValue("id"), identity(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer dl.Body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(dl.Size, 10))
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": dl.Filename}))
	w.WriteHeader(http.StatusOK)

	_, err = io.Copy(w, dl.Body)
	if err != nil {
		h.errorLogger.Printf("GET %s [%s]: %v", r.URL.Path, requestID(r.Context()), err)
	}
}

func (h *httpCache) storeHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	owner := identity(r)

	// Fail before staging the upload if the caller could not store it.
	_, err := h.lm.Authorize(r.Context(), id, owner)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	f, filename, size, err := h.stageUpload(r)
	defer tempfile.Discard(f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	_, err = h.lm.Store(r.Context(), id, owner, f, size, filename)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// stageUpload copies the multipart "file" field of r into a temp file and
// rewinds it. The returned file is non-nil whenever it was created, even on
// error, and must be discarded by the caller.
func (h *httpCache) stageUpload(r *http.Request) (*os.File, string, int64, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, "", 0, cache.Errorf(cache.KindMalformedRequest, "Content-type must be multipart/form-data")
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, "", 0, cache.Errorf(cache.KindMalformedRequest, "File field missing")
		}
		if err != nil {
			return nil, "", 0, cache.Wrap(cache.KindMalformedRequest, "Invalid multipart body", err)
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}

		filename := part.FileName()
		if filename == "" {
			_ = part.Close()
			return nil, "", 0, cache.Errorf(cache.KindMalformedRequest, "Filename missing")
		}

		f, err := h.tfc.Create(filepath.Join(h.tmpDir, "caching-service-upload"))
		if err != nil {
			_ = part.Close()
			return nil, "", 0, cache.Wrap(cache.KindUnexpected, "failed to create temp file", err)
		}

		var src io.Reader = part
		if h.maxBlobSize < math.MaxInt64 {
			src = io.LimitReader(part, h.maxBlobSize+1)
		}
		n, err := io.Copy(f, src)
		_ = part.Close()
		if err != nil {
			return f, "", 0, cache.Wrap(cache.KindMalformedRequest, "Failed to read upload", err)
		}
		if n > h.maxBlobSize {
			return f, "", 0, cache.Errorf(cache.KindTooBig, "File larger than %d bytes", h.maxBlobSize)
		}

		_, err = f.Seek(0, io.SeekStart)
		if err != nil {
			return f, "", 0, cache.Wrap(cache.KindUnexpected, "failed to rewind temp file", err)
		}
		return f, filename, n, nil
	}
}

func (h *httpCache) deleteHandler(w http.ResponseWriter, r *http.Request) {
	err := h.lm.Delete(r.Context(), r.PathValue("id"), identity(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
