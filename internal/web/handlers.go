package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/catalogimport/internal/core"
	"github.com/JonMunkholm/catalogimport/internal/session"
)

// multipartMemory is how much of a multipart body is kept in memory; the
// rest spills to temporary files.
const multipartMemory = 32 << 20

// maxListLimit bounds GET /api/imports.
const maxListLimit = 200

// handleHealth reports liveness and upload slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"uploads": s.service.UploadStatus(),
	})
}

// handleCreate accepts a multipart upload and starts an import.
//
// Form fields:
//   - file: the CSV, XLSX or XLS file (required)
//   - configuration: JSON import options (optional)
//   - mapping: JSON array with one field name per column (optional)
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	// Allow some headroom over the file limit for the other form fields.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize+1<<20)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			respondError(w, r, fmt.Errorf("%w: limit is %d bytes", core.ErrFileTooLarge, s.cfg.Upload.MaxFileSize))
			return
		}
		respondErrorStatus(w, r, fmt.Errorf("invalid multipart form: %w", err), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, core.ErrNoFile)
		return
	}
	defer file.Close()

	req := core.CreateRequest{
		UserID:   core.UserIDFromContext(r.Context()),
		FileName: header.Filename,
		Size:     header.Size,
		Body:     file,
	}

	if raw := strings.TrimSpace(r.FormValue("configuration")); raw != "" {
		cfg := session.DefaultConfiguration()
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			respondError(w, r, fmt.Errorf("%w: %v", core.ErrInvalidConfiguration, err))
			return
		}
		req.Configuration = &cfg
	}
	if raw := strings.TrimSpace(r.FormValue("mapping")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.ColumnMapping); err != nil {
			respondError(w, r, fmt.Errorf("%w: %v", core.ErrInvalidMapping, err))
			return
		}
	}

	sess, err := s.service.CreateSession(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	slog.Info("import created",
		"session_id", sess.ID,
		"file", sess.File.Name,
		"size", sess.File.Size,
		"status", sess.Status,
	)
	w.Header().Set("Location", "/api/imports/"+sess.ID)
	writeJSON(w, http.StatusAccepted, sess)
}

// handleList lists imports, newest first.
//
// Query parameters: user, status (repeatable or comma separated), limit.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := session.Filter{UserID: q.Get("user"), Limit: 50}
	for _, v := range q["status"] {
		for _, st := range strings.Split(v, ",") {
			if st = strings.TrimSpace(st); st != "" {
				f.Statuses = append(f.Statuses, session.Status(st))
			}
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondErrorStatus(w, r, fmt.Errorf("invalid limit %q", v), http.StatusBadRequest)
			return
		}
		f.Limit = min(n, maxListLimit)
	}

	sessions, err := s.service.List(r.Context(), f)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []*session.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"imports": sessions})
}

// handleStatus returns the polling view of one import.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleGetMapping returns the suggested column mapping for review.
func (s *Server) handleGetMapping(w http.ResponseWriter, r *http.Request) {
	sug, err := s.service.SuggestMapping(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sug)
}

// mappingRequest is the body of PUT /api/imports/{id}/mapping.
type mappingRequest struct {
	Mapping []string `json:"mapping"`
}

// handleSubmitMapping stores the reviewed mapping and resumes the import.
func (s *Server) handleSubmitMapping(w http.ResponseWriter, r *http.Request) {
	var req mappingRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", core.ErrInvalidMapping, err))
		return
	}

	sess, err := s.service.SubmitMapping(r.Context(), chi.URLParam(r, "id"), req.Mapping)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleStartProcessing starts an import that waits after its dry run.
func (s *Server) handleStartProcessing(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.StartProcessing(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sess)
}

// handleCancel cancels a running import.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleRetry starts a new import from a failed or cancelled one.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/imports/"+sess.ID)
	writeJSON(w, http.StatusAccepted, sess)
}

// handleReport returns the final or partial import report.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.service.Report(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handleEvents streams progress via Server-Sent Events until the import
// reaches a terminal status or the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	// Middleware wrappers expose the flusher through Unwrap.
	rc := http.NewResponseController(w)

	sub, err := s.service.Subscribe(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer sub.Close()

	// Set up SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	flush := func() {
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			slog.Debug("sse flush failed", "error", err)
		}
	}
	flush()

	id := 0
	for {
		select {
		case ev, open := <-sub.C():
			if !open {
				// Terminal event sent or subscriber fell behind
				fmt.Fprintf(w, "event: complete\ndata: {}\n\n")
				flush()
				return
			}

			data, err := json.Marshal(ev)
			if err != nil {
				slog.Error("sse encode error", "error", err)
				continue
			}
			id++
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, ev.Type, data)
			flush()

		case <-r.Context().Done():
			// Client disconnected
			return
		}
	}
}
