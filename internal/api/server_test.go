package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/regsdata/calregs-harvester/internal/frontier"
	"github.com/regsdata/calregs-harvester/internal/progress"
	"github.com/regsdata/calregs-harvester/internal/progress/sinks"
)

func testStore(t *testing.T) *frontier.Store {
	t.Helper()
	store := frontier.New(filepath.Join(t.TempDir(), "checkpoint.json"), zap.NewNop())
	store.AddSection("https://govt.westlaw.com/calregs/Document/I1")
	store.AddSection("https://govt.westlaw.com/calregs/Document/I2")
	store.AddSection("https://govt.westlaw.com/calregs/Document/I3")
	store.RecordTerminal("https://govt.westlaw.com/calregs/Document/I1", frontier.StatusSuccess, "")
	store.RecordTerminal("https://govt.westlaw.com/calregs/Document/I2", frontier.StatusFailed, "timeout")
	return store
}

func doRequest(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	srv := NewServer(testStore(t), nil, "", zap.NewNop())

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := doRequest(t, srv, path)
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
	require.NotEmpty(t, doRequest(t, srv, "/healthz").Header().Get("X-Request-ID"))
}

func TestStatusEndpoint(t *testing.T) {
	srv := NewServer(testStore(t), nil, "", zap.NewNop())
	rec := doRequest(t, srv, "/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap frontier.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Equal(t, 3, snap.Counters.SectionsDiscovered)
	require.Equal(t, 1, snap.ByStatus[frontier.StatusSuccess])
}

func TestListSectionsFilterAndPaging(t *testing.T) {
	srv := NewServer(testStore(t), nil, "", zap.NewNop())

	rec := doRequest(t, srv, "/v1/sections?status=failed")
	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Sections []sectionDTO `json:"sections"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Sections, 1)
	require.Equal(t, "timeout", payload.Sections[0].Error)

	rec = doRequest(t, srv, "/v1/sections?limit=1&offset=1")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Sections, 1)
	require.Equal(t, "https://govt.westlaw.com/calregs/Document/I2", payload.Sections[0].URL)

	require.Equal(t, http.StatusBadRequest, doRequest(t, srv, "/v1/sections?limit=zero").Code)
	require.Equal(t, http.StatusBadRequest, doRequest(t, srv, "/v1/sections?status=bogus").Code)
}

func TestProgressEndpoint(t *testing.T) {
	ring := sinks.NewRing(8)
	require.NoError(t, ring.Consume(context.Background(), []progress.Event{
		{RunID: "r", TS: time.Now(), Stage: progress.StageRunStart},
		{RunID: "r", TS: time.Now(), Stage: progress.StagePageVisited, URL: "https://govt.westlaw.com/calregs/Browse/Home"},
	}))
	srv := NewServer(testStore(t), ring, "", zap.NewNop())

	rec := doRequest(t, srv, "/v1/progress?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Events []progress.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Events, 1)
	require.Equal(t, progress.StagePageVisited, payload.Events[0].Stage, "newest first")

	noRing := NewServer(testStore(t), nil, "", zap.NewNop())
	require.Equal(t, http.StatusServiceUnavailable, doRequest(t, noRing, "/v1/progress").Code)
}

func TestReportEndpoint(t *testing.T) {
	srv := NewServer(testStore(t), nil, filepath.Join(t.TempDir(), "missing.jsonl"), zap.NewNop())
	rec := doRequest(t, srv, "/v1/report")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Complete bool `json:"complete"`
		Totals   struct {
			SectionsDiscovered int `json:"sections_discovered"`
			Pending            int `json:"pending"`
		} `json:"totals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.False(t, payload.Complete)
	require.Equal(t, 3, payload.Totals.SectionsDiscovered)
	require.Equal(t, 1, payload.Totals.Pending)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := NewServer(testStore(t), nil, "", zap.NewNop())
	rec := doRequest(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}
