package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kbase/caching-service/cache/cacheid"
	"github.com/kbase/caching-service/cache/fsstore"
	"github.com/kbase/caching-service/cache/lifecycle"
	testutils "github.com/kbase/caching-service/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	aliceToken = "alice-token"
	bobToken   = "bob-token"
)

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Printf(format string, v ...interface{}) {
	l.mu.Lock()
	l.lines = append(l.lines, fmt.Sprintf(format, v...))
	l.mu.Unlock()
}

func (l *recordingLogger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

type testServer struct {
	*httptest.Server
	access *recordingLogger
	errors *recordingLogger
}

func newTestServer(t *testing.T, maxBlobSize int64) *testServer {
	t.Helper()

	store, err := fsstore.New(t.TempDir(), testutils.NewSilentLogger())
	require.NoError(t, err)

	errs := &recordingLogger{}
	lm, err := lifecycle.New(store, lifecycle.WithErrorLogger(errs))
	require.NoError(t, err)

	access := &recordingLogger{}
	h := NewHTTPCache(lm, maxBlobSize, access, errs)
	resolver := testutils.StaticResolver{
		aliceToken: "kbase.us:alice:token1",
		bobToken:   "kbase.us:bob:token1",
	}

	srv := httptest.NewServer(h.Handler(resolver))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, access: access, errors: errs}
}

func (s *testServer) do(t *testing.T, method, path, token, contentType string, body io.Reader) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, s.URL+path, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	rsp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer rsp.Body.Close()

	data, err := io.ReadAll(rsp.Body)
	require.NoError(t, err)
	return rsp, data
}

func decode(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	var v map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func assertError(t *testing.T, rsp *http.Response, data []byte, code int, msg string) {
	t.Helper()
	assert.Equal(t, code, rsp.StatusCode, string(data))
	v := decode(t, data)
	assert.Equal(t, "error", v["status"])
	if msg != "" {
		assert.Contains(t, v["error"], msg)
	}
}

func (s *testServer) reserve(t *testing.T, token string, params string) string {
	t.Helper()
	rsp, data := s.do(t, http.MethodPost, "/cache_id", token, "application/json", strings.NewReader(params))
	require.Equal(t, http.StatusOK, rsp.StatusCode, string(data))
	v := decode(t, data)
	id, _ := v["cache_id"].(string)
	require.NoError(t, cacheid.Validate(id))
	return id
}

func multipartBody(t *testing.T, field, filename string, content []byte) (string, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	require.NoError(t, mw.WriteField("note", "ignored"))

	var w io.Writer
	var err error
	if filename == "" {
		w, err = mw.CreateFormField(field)
	} else {
		w, err = mw.CreateFormFile(field, filename)
	}
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return mw.FormDataContentType(), buf
}

func (s *testServer) upload(t *testing.T, token, id, filename string, content []byte) (*http.Response, []byte) {
	t.Helper()
	ct, body := multipartBody(t, "file", filename, content)
	return s.do(t, http.MethodPost, "/cache/"+id, token, ct, body)
}

func TestRootAndStatus(t *testing.T) {
	s := newTestServer(t, 1024)

	for _, path := range []string{"/", "/v1/"} {
		rsp, data := s.do(t, http.MethodGet, path, "", "", nil)
		assert.Equal(t, http.StatusOK, rsp.StatusCode, path)
		v := decode(t, data)
		assert.Contains(t, v, "routes")
	}

	rsp, data := s.do(t, http.MethodGet, "/status", "", "", nil)
	assert.Equal(t, http.StatusOK, rsp.StatusCode)
	v := decode(t, data)
	assert.Equal(t, "ok", v["status"])
	assert.Contains(t, v["backend"], "fs:")
	assert.NotZero(t, v["server_time"])
}

func TestReserve(t *testing.T) {
	s := newTestServer(t, 1024)

	id := s.reserve(t, aliceToken, `{"module": "kb_foo", "params": [1, 2]}`)

	// Key order and whitespace don't matter, and /v1 is an alias.
	rsp, data := s.do(t, http.MethodPost, "/v1/cache_id", aliceToken, "application/json; charset=utf-8",
		strings.NewReader(`{"params":[1,2],"module":"kb_foo"}`))
	require.Equal(t, http.StatusOK, rsp.StatusCode, string(data))
	v := decode(t, data)
	assert.Equal(t, id, v["cache_id"])
	assert.Equal(t, "ok", v["status"])
	md, ok := v["metadata"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, lifecycle.PlaceholderFilename, md["filename"])
	assert.Equal(t, "kbase.us:alice:token1", md["owner_identity"])

	other := s.reserve(t, bobToken, `{"module": "kb_foo", "params": [1, 2]}`)
	assert.NotEqual(t, id, other)
}

func TestReserveErrors(t *testing.T) {
	s := newTestServer(t, 1024)

	rsp, data := s.do(t, http.MethodPost, "/cache_id", "", "application/json", strings.NewReader(`{"a":1}`))
	assertError(t, rsp, data, http.StatusBadRequest, "Missing header: Authorization")

	rsp, data = s.do(t, http.MethodPost, "/cache_id", "nope", "application/json", strings.NewReader(`{"a":1}`))
	assertError(t, rsp, data, http.StatusForbidden, "")

	rsp, data = s.do(t, http.MethodPost, "/cache_id", aliceToken, "text/plain", strings.NewReader(`{"a":1}`))
	assertError(t, rsp, data, http.StatusBadRequest, "application/json")

	rsp, data = s.do(t, http.MethodPost, "/cache_id", aliceToken, "application/json", strings.NewReader(`{"a":`))
	assertError(t, rsp, data, http.StatusBadRequest, "")

	rsp, data = s.do(t, http.MethodPost, "/cache_id", aliceToken, "application/json", strings.NewReader(`{}`))
	assertError(t, rsp, data, http.StatusBadRequest, "")

	rsp, data = s.do(t, http.MethodPost, "/cache_id", aliceToken, "application/json", strings.NewReader(`[1, 2]`))
	assertError(t, rsp, data, http.StatusBadRequest, "")
}

func TestUploadDownloadDelete(t *testing.T) {
	s := newTestServer(t, 1<<20)
	content := testutils.RandomData(4096)

	id := s.reserve(t, aliceToken, `{"x": "y"}`)

	// Placeholders can't be downloaded.
	rsp, data := s.do(t, http.MethodGet, "/cache/"+id, aliceToken, "", nil)
	assertError(t, rsp, data, http.StatusNotFound, "")

	rsp, data = s.upload(t, aliceToken, id, "../../results.tar.gz", content)
	require.Equal(t, http.StatusOK, rsp.StatusCode, string(data))
	assert.Equal(t, "ok", decode(t, data)["status"])

	rsp, data = s.do(t, http.MethodGet, "/cache/"+id, aliceToken, "", nil)
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.Equal(t, content, data)
	assert.Equal(t, "application/octet-stream", rsp.Header.Get("Content-Type"))
	_, params, err := mime.ParseMediaType(rsp.Header.Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, "results.tar.gz", params["filename"])

	// Reserving again returns the stored entry unchanged.
	rsp, data = s.do(t, http.MethodPost, "/cache_id", aliceToken, "application/json", strings.NewReader(`{"x": "y"}`))
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	md := decode(t, data)["metadata"].(map[string]interface{})
	assert.Equal(t, "results.tar.gz", md["filename"])

	// Only the owner may touch the entry.
	rsp, data = s.do(t, http.MethodGet, "/cache/"+id, bobToken, "", nil)
	assertError(t, rsp, data, http.StatusForbidden, "")
	rsp, data = s.upload(t, bobToken, id, "evil.txt", []byte("evil"))
	assertError(t, rsp, data, http.StatusForbidden, "")
	rsp, data = s.do(t, http.MethodDelete, "/cache/"+id, bobToken, "", nil)
	assertError(t, rsp, data, http.StatusForbidden, "")

	// Replace the payload.
	rsp, data = s.upload(t, aliceToken, id, "second.txt", []byte("second"))
	require.Equal(t, http.StatusOK, rsp.StatusCode, string(data))
	rsp, data = s.do(t, http.MethodGet, "/v1/cache/"+id, aliceToken, "", nil)
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.Equal(t, "second", string(data))

	rsp, data = s.do(t, http.MethodDelete, "/cache/"+id, aliceToken, "", nil)
	require.Equal(t, http.StatusOK, rsp.StatusCode, string(data))
	assert.Equal(t, "ok", decode(t, data)["status"])

	rsp, data = s.do(t, http.MethodDelete, "/cache/"+id, aliceToken, "", nil)
	assertError(t, rsp, data, http.StatusNotFound, "")
	rsp, data = s.do(t, http.MethodGet, "/cache/"+id, aliceToken, "", nil)
	assertError(t, rsp, data, http.StatusNotFound, "")
}

func TestUploadErrors(t *testing.T) {
	s := newTestServer(t, 16)
	id := s.reserve(t, aliceToken, `{"x": 1}`)

	unreserved, err := cacheid.Generate("kbase.us:alice:token1", map[string]int{"never": 1})
	require.NoError(t, err)
	rsp, data := s.upload(t, aliceToken, unreserved, "f.txt", []byte("data"))
	assertError(t, rsp, data, http.StatusNotFound, "")

	ct, body := multipartBody(t, "other", "f.txt", []byte("data"))
	rsp, data = s.do(t, http.MethodPost, "/cache/"+id, aliceToken, ct, body)
	assertError(t, rsp, data, http.StatusBadRequest, "File field missing")

	rsp, data = s.upload(t, aliceToken, id, "", []byte("data"))
	assertError(t, rsp, data, http.StatusBadRequest, "Filename missing")

	rsp, data = s.do(t, http.MethodPost, "/cache/"+id, aliceToken, "application/octet-stream", strings.NewReader("data"))
	assertError(t, rsp, data, http.StatusBadRequest, "multipart/form-data")

	rsp, data = s.upload(t, aliceToken, id, "big.bin", testutils.RandomData(17))
	assertError(t, rsp, data, http.StatusRequestEntityTooLarge, "")

	// The entry is still a placeholder after the failed uploads.
	rsp, data = s.do(t, http.MethodGet, "/cache/"+id, aliceToken, "", nil)
	assertError(t, rsp, data, http.StatusNotFound, "")

	rsp, data = s.upload(t, aliceToken, id, "ok.bin", testutils.RandomData(16))
	assert.Equal(t, http.StatusOK, rsp.StatusCode, string(data))
}

func TestMalformedCacheID(t *testing.T) {
	s := newTestServer(t, 1024)

	for _, id := range []string{"abc", strings.Repeat("Z", cacheid.Length), strings.Repeat("a", cacheid.Length-1)} {
		rsp, data := s.do(t, http.MethodGet, "/cache/"+id, aliceToken, "", nil)
		assertError(t, rsp, data, http.StatusNotFound, "")
	}
}

func TestRequestIDAndAccessLog(t *testing.T) {
	s := newTestServer(t, 1024)

	rsp, _ := s.do(t, http.MethodGet, "/status", "", "", nil)
	_, err := uuid.Parse(rsp.Header.Get("X-Request-Id"))
	assert.NoError(t, err)

	given := uuid.NewString()
	req, err := http.NewRequest(http.MethodGet, s.URL+"/status", http.NoBody)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", given)
	rsp2, err := s.Client().Do(req)
	require.NoError(t, err)
	rsp2.Body.Close()
	assert.Equal(t, given, rsp2.Header.Get("X-Request-Id"))

	rsp, _ = s.do(t, http.MethodGet, "/cache/abc", aliceToken, "", nil)
	assert.Equal(t, http.StatusNotFound, rsp.StatusCode)

	// The access log line is written after the response has been sent.
	require.Eventually(t, func() bool { return len(s.access.Lines()) == 3 }, time.Second, 10*time.Millisecond)
	lines := s.access.Lines()
	assert.Contains(t, lines, " GET 200       127.0.0.1 /status")
	assert.Contains(t, lines, " GET 404       127.0.0.1 /cache/abc")

	// Expected failures are not error logged.
	for _, line := range s.errors.Lines() {
		assert.NotContains(t, line, "/cache/abc")
	}
}
