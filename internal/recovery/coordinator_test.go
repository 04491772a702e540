package recovery

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/regsdata/calregs-harvester/internal/extract"
	"github.com/regsdata/calregs-harvester/internal/fetch"
	"github.com/regsdata/calregs-harvester/internal/frontier"
	"github.com/regsdata/calregs-harvester/internal/output"
	"github.com/regsdata/calregs-harvester/internal/ratelimit"
)

const (
	secA = "https://govt.westlaw.com/calregs/Document/IAAA1111111111111111"
	secB = "https://govt.westlaw.com/calregs/Document/IBBB2222222222222222"
)

func sectionHTML(guid, number, title string) string {
	return fmt.Sprintf(`<html><body>
<input type="hidden" name="documentGuid" value=%q>
<div class="co_title">&sect; %s. %s</div>
<div class="co_docText"><p>Every provider shall report as required.</p></div>
</body></html>`, guid, number, title)
}

const redirectHTML = `<html><body>
<div class="co_docText">This title redirects to an external site.
<a href="https://www.dgs.ca.gov/BSC">California Building Standards Commission</a></div>
</body></html>`

type fakeGateway struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string][]error
	hits  map[string]int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		pages: make(map[string]string),
		errs:  make(map[string][]error),
		hits:  make(map[string]int),
	}
}

func (g *fakeGateway) Fetch(_ context.Context, url string) (fetch.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hits[url]++
	if q := g.errs[url]; len(q) > 0 {
		err := q[0]
		g.errs[url] = q[1:]
		return fetch.Result{}, err
	}
	body, ok := g.pages[url]
	if !ok {
		return fetch.Result{}, &fetch.Error{Kind: fetch.KindHTTPStatus, URL: url, StatusCode: 404, Err: errors.New("not found")}
	}
	return fetch.Result{URL: url, StatusCode: 200, Body: []byte(body), Duration: time.Millisecond}, nil
}

func (g *fakeGateway) hitCount(url string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hits[url]
}

func (g *fakeGateway) totalHits() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.hits {
		n += c
	}
	return n
}

type memOutput struct {
	mu      sync.Mutex
	records []output.Record
	keys    map[string]struct{}
}

func newMemOutput() *memOutput {
	return &memOutput{keys: make(map[string]struct{})}
}

func (m *memOutput) Append(_ context.Context, rec output.Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[rec.Key()]; ok {
		return false, nil
	}
	m.keys[rec.Key()] = struct{}{}
	m.records = append(m.records, rec)
	return true, nil
}

func (m *memOutput) Close() error { return nil }

func (m *memOutput) byKind(kind output.Kind) []output.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []output.Record
	for _, rec := range m.records {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

func newTestCoordinator(t *testing.T, cfg Config, gw *fakeGateway, out output.Store) (*Coordinator, *frontier.Store) {
	t.Helper()
	store := frontier.New(filepath.Join(t.TempDir(), "checkpoint.json"), zap.NewNop())
	coord := NewCoordinator(cfg, store, gw, extract.New(), out,
		ratelimit.New(ratelimit.Config{}), nil, zap.NewNop())
	return coord, store
}

func TestCoordinatorExtractsAllSections(t *testing.T) {
	gw := newFakeGateway()
	gw.pages[secA] = sectionHTML("IAAA1111111111111111", "2500", "Reporting to the Local Health Authority")
	gw.pages[secB] = sectionHTML("IBBB2222222222222222", "2501", "Local Health Officer Duties")
	out := newMemOutput()
	coord, store := newTestCoordinator(t, Config{Workers: 2}, gw, out)
	store.AddSection(secA)
	store.AddSection(secB)

	summary, err := coord.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, summary.Passes)
	require.Equal(t, 2, summary.Succeeded)
	require.Zero(t, summary.Failed)
	require.Zero(t, summary.Remaining)

	success := out.byKind(output.KindSuccess)
	require.Len(t, success, 2)
	for _, rec := range success {
		require.NotNil(t, rec.Section)
		require.NotEmpty(t, rec.GUID)
		require.NotEmpty(t, rec.Section.TextPlain)
	}
}

func TestCoordinatorIdempotentOnTerminalSet(t *testing.T) {
	gw := newFakeGateway()
	gw.pages[secA] = sectionHTML("IAAA1111111111111111", "2500", "Reporting")
	out := newMemOutput()
	coord, store := newTestCoordinator(t, Config{}, gw, out)
	store.AddSection(secA)

	_, err := coord.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, gw.totalHits())

	// A second run over the fully terminal set does nothing at all.
	again := NewCoordinator(Config{}, store, gw, extract.New(), out,
		ratelimit.New(ratelimit.Config{}), nil, zap.NewNop())
	summary, err := again.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.Passes)
	require.Equal(t, 1, gw.totalHits(), "terminal sections must not be refetched")
	require.Len(t, out.records, 1)
}

func TestCoordinatorTransientFailureExhaustsToFailed(t *testing.T) {
	timeout := &fetch.Error{Kind: fetch.KindTimeout, URL: secA, Err: errors.New("deadline exceeded")}
	gw := newFakeGateway()
	gw.errs[secA] = []error{timeout, timeout, timeout, timeout}
	out := newMemOutput()
	coord, store := newTestCoordinator(t, Config{MaxAttempts: 2, MaxPasses: 3}, gw, out)
	store.AddSection(secA)

	summary, err := coord.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, summary.Passes, "no claimable sections remain after the attempt bound")
	require.Equal(t, 1, summary.Failed)
	require.Zero(t, summary.Remaining)
	require.Equal(t, 2, gw.hitCount(secA))

	failed := out.byKind(output.KindFailed)
	require.Len(t, failed, 1)
	require.Contains(t, failed[0].FailureReason, "deadline exceeded")
	require.Equal(t, 2, failed[0].Attempts)
}

func TestCoordinatorNotFoundIsTerminalImmediately(t *testing.T) {
	gw := newFakeGateway() // no page registered: every fetch is a 404
	out := newMemOutput()
	coord, store := newTestCoordinator(t, Config{MaxPasses: 3}, gw, out)
	store.AddSection(secA)

	summary, err := coord.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, summary.Passes)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 1, gw.hitCount(secA), "a 404 is permanent and burns no retries")

	sec, ok := store.Section(secA)
	require.True(t, ok)
	require.Equal(t, frontier.StatusFailed, sec.Status)
}

func TestCoordinatorRecoversFlakySection(t *testing.T) {
	timeout := &fetch.Error{Kind: fetch.KindTimeout, URL: secA, Err: errors.New("deadline exceeded")}
	gw := newFakeGateway()
	gw.errs[secA] = []error{timeout}
	gw.pages[secA] = sectionHTML("IAAA1111111111111111", "2500", "Reporting")
	out := newMemOutput()
	coord, store := newTestCoordinator(t, Config{MaxAttempts: 3, MaxPasses: 3}, gw, out)
	store.AddSection(secA)

	summary, err := coord.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, summary.Passes, "the second pass picks the section back up")
	require.Equal(t, 1, summary.Succeeded)
	require.Zero(t, summary.Failed)

	sec, _ := store.Section(secA)
	require.Equal(t, frontier.StatusSuccess, sec.Status)
	require.Equal(t, 1, sec.Attempts)
}

func TestCoordinatorExternalRedirect(t *testing.T) {
	gw := newFakeGateway()
	gw.pages[secA] = redirectHTML
	out := newMemOutput()
	coord, store := newTestCoordinator(t, Config{}, gw, out)
	store.AddSection(secA)

	summary, err := coord.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.ExternalRedirects)

	recs := out.byKind(output.KindExternalRedirect)
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].Section)
	require.Equal(t, "https://www.dgs.ca.gov/BSC", recs[0].Section.ExternalURL)
}

func TestCoordinatorDedupesByGUID(t *testing.T) {
	// Two URL spellings of the same document share a GUID; only the first
	// terminal outcome produces an output record.
	page := sectionHTML("IAAA1111111111111111", "2500", "Reporting")
	gw := newFakeGateway()
	gw.pages[secA] = page
	gw.pages[secB] = page
	out := newMemOutput()
	coord, store := newTestCoordinator(t, Config{Workers: 1}, gw, out)
	store.AddSection(secA)
	store.AddSection(secB)

	summary, err := coord.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, summary.Succeeded, "both URLs reach a terminal status")
	require.Len(t, out.records, 1, "the shared GUID collapses to one record")
}
