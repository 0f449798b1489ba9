package server

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/siardsearch/internal/archive"
	"github.com/brensch/siardsearch/internal/config"
	"github.com/brensch/siardsearch/internal/manifest"
	"github.com/brensch/siardsearch/internal/orchestrator"
	"github.com/brensch/siardsearch/internal/schema"
	"github.com/brensch/siardsearch/internal/search"
)

func newTestServer(t *testing.T) (*Server, config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.UploadDir = filepath.Join(dir, "uploads")
	cfg.ExtractDir = filepath.Join(dir, "temp_extracted")

	x, err := archive.New()
	require.NoError(t, err)
	catalog, err := schema.DefaultCatalog()
	require.NoError(t, err)
	corrector := schema.NewCorrector(catalog, cfg.SimilarityThreshold)
	engine, err := search.NewEngine(search.WithCorrector(corrector))
	require.NoError(t, err)

	s, err := New(cfg, orchestrator.New(x, corrector, cfg.TabularExtensions, nil), engine, nil)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, cfg
}

func zipBytes(t *testing.T, members map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range members {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func uploadRequest(t *testing.T, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func formRequest(path string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestUploadAndSearch(t *testing.T) {
	s, cfg := newTestServer(t)

	data := zipBytes(t, map[string]string{
		"Person_1.txt": "PIN\tName\tVorname\tGeburtsdatum\tAdresse\n1\tMüller\tHans\t1980-01-01\tBahnhofstrasse 1\n2\tMeier\tAnna\t1975-05-05\tDorfweg 2\n",
	})
	rec := do(s, uploadRequest(t, "test_file.zip", data))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var up uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &up))
	assert.Equal(t, "test_file", up.Root)
	require.NotEmpty(t, up.JobID)

	s.Wait()

	rec = do(s, httptest.NewRequest(http.MethodGet, "/jobs/"+up.JobID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var job Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, JobDone, job.Status)
	require.NotNil(t, job.Report)
	assert.True(t, job.Report.Success)

	_, err := os.Stat(filepath.Join(cfg.ExtractDir, "test_file", "structure.json"))
	require.NoError(t, err)

	rec = do(s, formRequest("/search", url.Values{"search_query": {"MÜLLER"}, "root": {"test_file"}}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Results, 1)
	assert.Equal(t, "Person_1.txt", res.Results[0].File)
	v, ok := res.Results[0].Row.Get("Vorname")
	assert.True(t, ok)
	assert.Equal(t, "Hans", v)
	assert.Empty(t, res.Failures)

	rec = do(s, formRequest("/detailed_search", url.Values{"first_name": {"Anna"}, "last_name": {""}, "age": {""}}))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "Anna", res.Query)
	assert.Len(t, res.Results, 1, "searching the whole extraction directory")

	rec = do(s, httptest.NewRequest(http.MethodGet, "/manifest?root=test_file", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var m manifest.Manifest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, 1, m.FileCount())
}

func TestUploadRefreshesExtractionDirIndex(t *testing.T) {
	s, cfg := newTestServer(t)
	require.NoError(t, os.MkdirAll(cfg.ExtractDir, 0o755))
	require.True(t, s.pipeline.Reindex(context.Background(), cfg.ExtractDir).Success)

	rec := do(s, uploadRequest(t, "late.zip", zipBytes(t, map[string]string{
		"Person_1.txt": "PIN\tName\n1\tMüller\n",
	})))
	require.Equal(t, http.StatusAccepted, rec.Code)
	s.Wait()

	m, err := manifest.Load(cfg.ExtractDir)
	require.NoError(t, err)
	assert.Contains(t, m[manifest.RootKey].Dirs, "late")

	rec = do(s, formRequest("/search", url.Values{"search_query": {"müller"}}))
	require.Equal(t, http.StatusOK, rec.Code)
	var res searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Results, 1)
	assert.Equal(t, "late/Person_1.txt", res.Results[0].File)
}

func TestSameNameUploadsUseSeparateFiles(t *testing.T) {
	s, _ := newTestServer(t)
	data := zipBytes(t, map[string]string{"Person_1.txt": "PIN\tName\n1\tMeier\n"})

	var ids []string
	for range 2 {
		rec := do(s, uploadRequest(t, "same.zip", data))
		require.Equal(t, http.StatusAccepted, rec.Code)
		var up uploadResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &up))
		ids = append(ids, up.JobID)
	}
	s.Wait()

	first, ok := s.jobs.get(ids[0])
	require.True(t, ok)
	second, ok := s.jobs.get(ids[1])
	require.True(t, ok)
	assert.NotEqual(t, first.Archive, second.Archive)
	assert.Equal(t, first.Root, second.Root)
	for _, j := range []Job{first, second} {
		assert.Equal(t, JobDone, j.Status, j.Archive)
		assert.Equal(t, ".zip", filepath.Ext(j.Archive))
		_, err := os.Stat(j.Archive)
		assert.NoError(t, err)
	}
}

func TestUploadRejects(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(s, uploadRequest(t, "notes.txt", []byte("hello")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid file format.")

	rec = do(s, formRequest("/upload", url.Values{}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "No file part in the request.")
}

func TestCorruptUploadFailsJob(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(s, uploadRequest(t, "broken.siard", []byte("not a zip")))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var up uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &up))
	s.Wait()

	job, ok := s.jobs.get(up.JobID)
	require.True(t, ok)
	assert.Equal(t, JobFailed, job.Status)
	require.NotEmpty(t, job.Report.Failures)
	assert.Equal(t, orchestrator.KindExtraction, job.Report.Failures[0].Kind)
}

func TestSearchValidation(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(s, formRequest("/search", url.Values{"search_query": {"  "}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Search query cannot be empty.")

	rec = do(s, formRequest("/detailed_search", url.Values{}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(s, formRequest("/search", url.Values{"search_query": {"x"}, "root": {"../etc"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(s, formRequest("/search", url.Values{"search_query": {"x"}, "root": {"never_uploaded"}}))
	require.Equal(t, http.StatusOK, rec.Code)
	var res searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Empty(t, res.Results)

	rec = do(s, httptest.NewRequest(http.MethodGet, "/manifest?root=never_uploaded", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(s, httptest.NewRequest(http.MethodGet, "/jobs/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadName(t *testing.T) {
	for in, want := range map[string]string{
		"export.zip":          "export.zip",
		"../../etc/evil.zip":  "evil.zip",
		`C:\Users\x\data.zip`: "data.zip",
	} {
		got, err := uploadName(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	for _, bad := range []string{"", "..", ".hidden.zip", "/"} {
		_, err := uploadName(bad)
		assert.Error(t, err, bad)
	}
}
