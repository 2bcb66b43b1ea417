package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitbondlabs/bitbondd/internal/domain"
)

// blobStub is an in-memory domain.BlobReader.
type blobStub struct {
	objects map[string][]byte
}

func (s *blobStub) Get(_ context.Context, key string) (io.ReadCloser, error) {
	b, ok := s.objects[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *blobStub) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var infos []domain.BlobInfo
	for key, b := range s.objects {
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, domain.BlobInfo{Path: key, Size: int64(len(b))})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}

func newArchiveTestServer(t *testing.T, stub *blobStub) *httptest.Server {
	t.Helper()
	h := NewArchiveHandler(stub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/archive/snapshots", h.ListSnapshots)
	mux.HandleFunc("GET /api/archive/snapshots/{key...}", h.GetSnapshot)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestListSnapshots(t *testing.T) {
	stub := &blobStub{objects: map[string][]byte{
		"archive/positions/2026-07.jsonl": []byte("{\"id\":1}\n"),
		"archive/sales/2026-08.jsonl":     []byte("{\"position_id\":1}\n{\"position_id\":2}\n"),
	}}
	ts := newArchiveTestServer(t, stub)

	resp, err := http.Get(ts.URL + "/api/archive/snapshots")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Snapshots []struct {
			Path string `json:"path"`
			Size int64  `json:"size"`
		} `json:"snapshots"`
		Count int `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, 2, body.Count)
	assert.Equal(t, "archive/positions/2026-07.jsonl", body.Snapshots[0].Path)
	assert.Equal(t, "archive/sales/2026-08.jsonl", body.Snapshots[1].Path)
	assert.EqualValues(t, 9, body.Snapshots[0].Size)

	// Prefix narrows the listing.
	resp, err = http.Get(ts.URL + "/api/archive/snapshots?prefix=archive/sales/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "archive/sales/2026-08.jsonl", body.Snapshots[0].Path)
}

func TestGetSnapshot(t *testing.T) {
	ndjson := "{\"position_id\":1}\n{\"position_id\":2}\n"
	stub := &blobStub{objects: map[string][]byte{
		"archive/sales/2026-08.jsonl": []byte(ndjson),
	}}
	ts := newArchiveTestServer(t, stub)

	resp, err := http.Get(ts.URL + "/api/archive/snapshots/archive/sales/2026-08.jsonl")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, ndjson, string(got))

	resp, err = http.Get(ts.URL + "/api/archive/snapshots/archive/sales/1999-01.jsonl")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
