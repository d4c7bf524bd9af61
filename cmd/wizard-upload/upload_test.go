package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bitrise-io/wizard-uploads/upload/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	server *httptest.Server

	mu        sync.Mutex
	requests  []network.DestinationRequest
	files     map[string][]byte
	acks      []string
	puts      int
	putStatus int
}

func newFakeAPI(t *testing.T) *fakeAPI {
	api := &fakeAPI{files: map[string][]byte{}}
	api.server = httptest.NewServer(http.HandlerFunc(api.handle))
	t.Cleanup(api.server.Close)

	t.Setenv("WIZARD_API_URL", api.server.URL+"/api")
	t.Setenv("WIZARD_API_TOKEN", "token")
	t.Setenv("WIZARD_PROGRESS_INTERVAL", "1ms")
	t.Setenv("WIZARD_ANALYTICS", "")
	t.Setenv("WIZARD_DEBUG", "")

	return api
}

func (a *fakeAPI) handle(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/uploads":
		var req network.DestinationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		a.requests = append(a.requests, req)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     req.FileName,
			"target": map[string]string{"url": a.server.URL + "/blob/" + req.FileName, "method": http.MethodPut},
		})
	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/blob/"):
		a.puts++
		body, _ := io.ReadAll(r.Body)
		if a.putStatus != 0 {
			w.WriteHeader(a.putStatus)
			_, _ = w.Write([]byte(`{"message":"Upload denied"}`))
			return
		}
		a.files[strings.TrimPrefix(r.URL.Path, "/blob/")] = body
	case r.Method == http.MethodPatch && strings.HasSuffix(r.URL.Path, "/acknowledge"):
		a.acks = append(a.acks, strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/uploads/"), "/acknowledge"))
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func testOptions(retries int) uploadOptions {
	return uploadOptions{kind: "dataset", retries: retries, quiet: true}
}

func TestRunUpload(t *testing.T) {
	api := newFakeAPI(t)
	dir := t.TempDir()
	createFiles(t, dir, "a.csv", "b.csv", "dataset/part-1.csv", "dataset/part-2.csv")

	err := runUpload(context.Background(), testOptions(0), []string{
		filepath.Join(dir, "*.csv"),
		filepath.Join(dir, "dataset"),
	}, &bytes.Buffer{})
	require.NoError(t, err)

	api.mu.Lock()
	defer api.mu.Unlock()

	assert.Equal(t, []byte("a.csv"), api.files["a.csv"])
	assert.Equal(t, []byte("b.csv"), api.files["b.csv"])
	assert.NotEmpty(t, api.files["dataset.tar.zst"])
	assert.ElementsMatch(t, []string{"a.csv", "b.csv", "dataset.tar.zst"}, api.acks)

	require.Len(t, api.requests, 3)
	for _, req := range api.requests {
		assert.Equal(t, "dataset", req.Kind)
		assert.NotEmpty(t, req.ContentType)
	}
}

func TestRunUpload_MissingFile(t *testing.T) {
	api := newFakeAPI(t)
	dir := t.TempDir()
	createFiles(t, dir, "a.csv")

	err := runUpload(context.Background(), testOptions(0), []string{
		filepath.Join(dir, "a.csv"),
		filepath.Join(dir, "missing.csv"),
	}, &bytes.Buffer{})
	require.True(t, errors.Is(err, errIncomplete))

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, []string{"a.csv"}, api.acks)
}

func TestRunUpload_RetriesFailedTransfer(t *testing.T) {
	api := newFakeAPI(t)
	api.putStatus = http.StatusForbidden
	dir := t.TempDir()
	createFiles(t, dir, "a.csv")

	err := runUpload(context.Background(), testOptions(1), []string{filepath.Join(dir, "a.csv")}, &bytes.Buffer{})
	require.True(t, errors.Is(err, errIncomplete))

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, 2, api.puts)
	assert.Empty(t, api.acks)
}

func TestRunUpload_InvalidConfig(t *testing.T) {
	t.Setenv("WIZARD_API_URL", "")
	t.Setenv("WIZARD_API_TOKEN", "")

	err := runUpload(context.Background(), testOptions(0), []string{"a.csv"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestUploadCmd_InvalidKind(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"upload", "--kind", "video", "a.csv"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid kind")
}

func TestStarter_ContentType(t *testing.T) {
	s := starter{opts: uploadOptions{}}
	assert.Equal(t, "application/octet-stream", s.contentType("archive.unknownext"))

	s.opts.contentType = "text/plain"
	assert.Equal(t, "text/plain", s.contentType("a.csv"))
}
