package web

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/catalogimport/internal/broadcast"
	"github.com/JonMunkholm/catalogimport/internal/catalog"
	"github.com/JonMunkholm/catalogimport/internal/config"
	"github.com/JonMunkholm/catalogimport/internal/core"
	"github.com/JonMunkholm/catalogimport/internal/session"
	"github.com/JonMunkholm/catalogimport/internal/storage"
)

const widgetsCSV = "Product Name,SKU,Price\nWidget A,WID-001,9.99\nWidget B,WID-002,19.99\n"

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 30 * time.Second},
		Upload: config.UploadConfig{MaxFileSize: 1 << 20},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	ctx := context.Background()

	db, err := catalog.Open(ctx, catalog.Options{Driver: catalog.DriverSQLite, DSN: filepath.Join(t.TempDir(), "catalog.db")})
	require.NoError(t, err)
	require.NoError(t, catalog.Migrate(ctx, db))
	t.Cleanup(func() { catalog.Close(db) })

	artifacts, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	svc, err := core.New(core.Deps{
		Store:     session.NewMemoryStore(),
		Catalog:   catalog.NewRepository(db),
		Artifacts: artifacts,
		Hub:       broadcast.NewHub(16),
	}, core.Config{TempDir: t.TempDir(), MaxFileSize: cfg.Upload.MaxFileSize})
	require.NoError(t, err)

	return NewServer(svc, cfg)
}

// uploadRequest builds a multipart POST /api/imports request.
func uploadRequest(t *testing.T, name, body string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if name != "" {
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(body))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/imports", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

var foreground = map[string]string{"configuration": `{"background": false}`}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createImport(t *testing.T, s *Server, name, body string) session.Session {
	t.Helper()
	rec := serve(s, uploadRequest(t, name, body, foreground))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	return decode[session.Session](t, rec)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "ok", decode[map[string]any](t, rec)["status"])
}

func TestCreateImport(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := serve(s, uploadRequest(t, "widgets.csv", widgetsCSV, foreground))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	sess := decode[session.Session](t, rec)
	assert.Equal(t, "/api/imports/"+sess.ID, rec.Header().Get("Location"))
	assert.Equal(t, session.StatusCompleted, sess.Status)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/imports/"+sess.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[session.View](t, rec)
	assert.Equal(t, 100, view.ProgressPercentage)
	assert.Equal(t, 2, view.Counts.Successful)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/imports/"+sess.ID+"/report", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	rep := decode[map[string]any](t, rec)
	assert.Equal(t, string(session.StatusCompleted), rep["status"])
	assert.Equal(t, false, rep["partial"])
}

func TestCreateImport_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		body     string
		fields   map[string]string
		wantCode int
		wantErr  string
	}{
		{
			name:     "no file",
			wantCode: http.StatusBadRequest,
			wantErr:  "FILE004",
		},
		{
			name:     "unsupported type",
			file:     "notes.pdf",
			body:     "hello",
			wantCode: http.StatusBadRequest,
			wantErr:  "FILE002",
		},
		{
			name:     "empty file",
			file:     "empty.csv",
			wantCode: http.StatusBadRequest,
			wantErr:  "FILE005",
		},
		{
			name:     "bad configuration json",
			file:     "widgets.csv",
			body:     widgetsCSV,
			fields:   map[string]string{"configuration": "{"},
			wantCode: http.StatusBadRequest,
			wantErr:  "VAL009",
		},
		{
			name:     "chunk size out of range",
			file:     "widgets.csv",
			body:     widgetsCSV,
			fields:   map[string]string{"configuration": `{"chunk_size": 5}`},
			wantCode: http.StatusBadRequest,
			wantErr:  "VAL009",
		},
		{
			name:     "too large",
			file:     "big.csv",
			body:     "Product Name,SKU\n" + strings.Repeat("Widget,WID-1\n", 100_000),
			wantCode: http.StatusRequestEntityTooLarge,
			wantErr:  "FILE001",
		},
	}

	s := newTestServer(t, testConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(s, uploadRequest(t, tt.file, tt.body, tt.fields))
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantErr, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestStatus_NotFound(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/imports/missing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "IMP003", resp.Code)
	assert.NotEmpty(t, resp.Action)
}

func TestMappingReview(t *testing.T) {
	s := newTestServer(t, testConfig())
	sess := createImport(t, s, "odd.csv", "Col A,Col B,Col C\nWidget A,WID-001,9.99\n")
	require.Equal(t, session.StatusAwaitingMapping, sess.Status)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/imports/"+sess.ID+"/mapping", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	sug := decode[core.MappingSuggestion](t, rec)
	assert.Equal(t, []string{"Col A", "Col B", "Col C"}, sug.Headers)
	assert.NotEmpty(t, sug.Fields)

	put := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPut, "/api/imports/"+sess.ID+"/mapping", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return serve(s, req)
	}

	rec = put(`{"mapping": ["product_name"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MAP003", decode[ErrorResponse](t, rec).Code)

	rec = put(`not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = put(`{"mapping": ["product_name", "variant_sku", "retail_price"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, session.StatusCompleted, decode[session.Session](t, rec).Status)

	rec = put(`{"mapping": ["product_name", "variant_sku", "retail_price"]}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLifecycleConflicts(t *testing.T) {
	s := newTestServer(t, testConfig())
	sess := createImport(t, s, "widgets.csv", widgetsCSV)
	require.Equal(t, session.StatusCompleted, sess.Status)

	for _, action := range []string{"cancel", "retry", "process"} {
		t.Run(action, func(t *testing.T) {
			rec := serve(s, httptest.NewRequest(http.MethodPost, "/api/imports/"+sess.ID+"/"+action, nil))
			assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
		})
	}
}

func TestList_FiltersByUser(t *testing.T) {
	s := newTestServer(t, testConfig())

	req := uploadRequest(t, "widgets.csv", widgetsCSV, foreground)
	req.Header.Set("X-User-ID", "user-7")
	require.Equal(t, http.StatusAccepted, serve(s, req).Code)
	createImport(t, s, "widgets.csv", widgetsCSV)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/imports?user=user-7", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Imports []session.Session `json:"imports"`
	}](t, rec)
	require.Len(t, list.Imports, 1)
	assert.Equal(t, "user-7", list.Imports[0].UserID)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/imports?status=completed,failed", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	list = decode[struct {
		Imports []session.Session `json:"imports"`
	}](t, rec)
	assert.Len(t, list.Imports, 2)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/imports?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvents_FinishedImport(t *testing.T) {
	s := newTestServer(t, testConfig())
	sess := createImport(t, s, "widgets.csv", widgetsCSV)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/imports/"+sess.ID+"/events", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "id: 1\nevent: status\n")
	assert.Contains(t, body, `"status":"completed"`)
	assert.True(t, strings.HasSuffix(body, "event: complete\ndata: {}\n\n"))
}

func TestEvents_UnknownImport(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/imports/nope/events", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"secret-1", "secret-2"}}
	s := newTestServer(t, cfg)

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong", "X-API-Key", "nope", http.StatusForbidden},
		{"header", "X-API-Key", "secret-2", http.StatusNotFound},
		{"bearer", "Authorization", "Bearer secret-1", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/imports/missing", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			assert.Equal(t, tt.want, serve(s, req).Code)
		})
	}

	// Health stays public.
	assert.Equal(t, http.StatusOK, serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2, UploadLimit: 1}
	s := newTestServer(t, cfg)

	get := func(remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/imports", nil)
		req.RemoteAddr = remote
		return serve(s, req).Code
	}

	assert.Equal(t, http.StatusOK, get("10.0.0.1:1234"))
	assert.Equal(t, http.StatusOK, get("10.0.0.1:1235"))

	req := httptest.NewRequest(http.MethodGet, "/api/imports", nil)
	req.RemoteAddr = "10.0.0.1:1236"
	rec := serve(s, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE001", decode[ErrorResponse](t, rec).Code)

	// Other clients have their own budget.
	assert.Equal(t, http.StatusOK, get("10.0.0.2:1234"))
}

func TestRateLimiter_Refills(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rl := newRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("a"))
	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))

	now = now.Add(30 * time.Second)
	assert.True(t, rl.allow("a"))

	now = now.Add(5 * time.Minute)
	rl.allow("b")
	_, kept := rl.visitors["a"]
	assert.False(t, kept, "idle visitors are evicted")
}
