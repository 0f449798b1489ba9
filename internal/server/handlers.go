package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/panjf2000/ants/v2"

	"github.com/brensch/siardsearch/internal/manifest"
	"github.com/brensch/siardsearch/internal/search"
	"github.com/brensch/siardsearch/internal/util"
)

type messageResponse struct {
	Message string `json:"message"`
}

type uploadResponse struct {
	Message string `json:"message"`
	JobID   string `json:"job_id"`
	Root    string `json:"root"`
}

type failureResponse struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

type searchResponse struct {
	Query    string            `json:"query"`
	Files    int               `json:"files"`
	Results  []search.Match    `json:"results"`
	Failures []failureResponse `json:"failures"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to write response.", "error", err)
	}
}

func (s *Server) writeMessage(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, messageResponse{Message: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// uploadName reduces a client supplied file name to a safe base name.
func uploadName(name string) (string, error) {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	base = strings.TrimSpace(base)
	if base == "" || base == "." || base == ".." || base == "/" || strings.HasPrefix(base, ".") {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return base, nil
}

// resolveRoot maps the optional root parameter onto a directory inside the extraction dir.
func (s *Server) resolveRoot(param string) (string, error) {
	param = strings.TrimSpace(param)
	if param == "" {
		return s.cfg.ExtractDir, nil
	}
	local := filepath.FromSlash(param)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("root %q must be a relative path inside the extraction directory", param)
	}
	return filepath.Join(s.cfg.ExtractDir, local), nil
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		s.logger.Warn("Malformed upload.", "error", err)
		s.writeMessage(w, http.StatusBadRequest, "Malformed upload.")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.logger.Warn("No file part in the request.")
		s.writeMessage(w, http.StatusBadRequest, "No file part in the request.")
		return
	}
	defer file.Close()

	l := s.logger.With(slog.String("upload", header.Filename))
	l.Info("Received file.", slog.Int64("bytes", header.Size))

	name, err := uploadName(header.Filename)
	if err != nil || !util.HasExtension(name, s.cfg.ArchiveExtensions) {
		l.Warn("Invalid file format received.")
		s.writeMessage(w, http.StatusBadRequest, "Invalid file format.")
		return
	}

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		l.Error("Failed to create upload directory.", "error", err)
		s.writeMessage(w, http.StatusInternalServerError, "Internal server error.")
		return
	}
	// Each upload gets its own file so a later upload of the same name cannot truncate an
	// archive that is still being extracted.
	id := newJobID()
	ext := filepath.Ext(name)
	rootName := strings.TrimSuffix(name, ext)
	archivePath := filepath.Join(s.cfg.UploadDir, rootName+"-"+id+ext)
	if err := saveUpload(file, archivePath); err != nil {
		l.Error("Failed to save upload.", "error", err)
		s.writeMessage(w, http.StatusInternalServerError, "Internal server error.")
		return
	}
	l.Debug("File saved.", slog.String("path", archivePath))

	root := filepath.Join(s.cfg.ExtractDir, rootName)
	job := s.jobs.add(id, archivePath, root)

	s.running.Add(1)
	err = s.uploads.Submit(func() {
		defer s.running.Done()
		s.runJob(job.ID, archivePath, root)
	})
	if err != nil {
		s.running.Done()
		s.jobs.remove(job.ID)
		if errors.Is(err, ants.ErrPoolOverload) {
			l.Warn("Upload pool is full.")
			s.writeMessage(w, http.StatusServiceUnavailable, "Too many extractions in progress, retry later.")
			return
		}
		l.Error("Failed to schedule extraction.", "error", err)
		s.writeMessage(w, http.StatusInternalServerError, "Internal server error.")
		return
	}

	s.writeJSON(w, http.StatusAccepted, uploadResponse{
		Message: "File uploaded and extraction started.",
		JobID:   job.ID,
		Root:    rootName,
	})
}

func saveUpload(src io.Reader, dst string) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(out, src)
	return errors.Join(copyErr, out.Close())
}

func (s *Server) runJob(id, archivePath, root string) {
	s.jobs.update(id, func(j *Job) { j.Status = JobRunning })
	report := s.pipeline.IngestArchive(s.baseCtx, archivePath, root)
	finished := time.Now().UTC()
	s.jobs.update(id, func(j *Job) {
		j.Report = report
		j.Finished = &finished
		j.Status = JobDone
		if !report.Success {
			j.Status = JobFailed
		}
	})
	if report.Success {
		s.logger.Info("Successfully extracted file.", "archive", archivePath, "job", id)
		if r := s.pipeline.RefreshIndexed(s.baseCtx, s.cfg.ExtractDir); r != nil && !r.Success {
			s.logger.Warn("Failed to refresh the extraction directory index.", "job", id, "error", r.Err())
		}
	} else {
		s.logger.Error("Error extracting the file.", "archive", archivePath, "job", id, "error", report.Err())
	}
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.get(chi.URLParam(r, "id"))
	if !ok {
		s.writeMessage(w, http.StatusNotFound, "Unknown job.")
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.FormValue("search_query"))
	s.runSearch(w, r, query)
}

// handleDetailedSearch joins the non-empty name and age fields into one query.
func (s *Server) handleDetailedSearch(w http.ResponseWriter, r *http.Request) {
	var parts []string
	for _, field := range []string{"first_name", "last_name", "age"} {
		if v := strings.TrimSpace(r.FormValue(field)); v != "" {
			parts = append(parts, v)
		}
	}
	s.runSearch(w, r, strings.Join(parts, " "))
}

func (s *Server) runSearch(w http.ResponseWriter, r *http.Request, query string) {
	if query == "" {
		s.logger.Warn("Empty search query received.")
		s.writeMessage(w, http.StatusBadRequest, "Search query cannot be empty.")
		return
	}
	root, err := s.resolveRoot(r.FormValue("root"))
	if err != nil {
		s.writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("Searching for query.", "query", query, "root", root)
	res, err := s.engine.Search(r.Context(), query, root)
	if err != nil {
		s.logger.Error("Exception during search.", "error", err)
		s.writeMessage(w, http.StatusInternalServerError, "Internal server error during search.")
		return
	}
	res.Sort()

	resp := searchResponse{
		Query:    query,
		Files:    res.Files,
		Results:  res.Matches,
		Failures: make([]failureResponse, 0, len(res.Failures)),
	}
	for _, f := range res.Failures {
		resp.Failures = append(resp.Failures, failureResponse{File: f.File, Error: f.Err.Error()})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	root, err := s.resolveRoot(r.URL.Query().Get("root"))
	if err != nil {
		s.writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := manifest.Load(root)
	if errors.Is(err, fs.ErrNotExist) {
		s.writeMessage(w, http.StatusNotFound, "No manifest for this root.")
		return
	}
	if err != nil {
		s.logger.Error("Failed to load manifest.", "root", root, "error", err)
		s.writeMessage(w, http.StatusInternalServerError, "Internal server error.")
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}
