// Package frontier owns all traversal state: the BFS queue, the visited set,
// the pending-section set, and run counters. Every mutation goes through the
// Store so a checkpoint is always a consistent snapshot.
package frontier

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status is the extraction state of a discovered section URL.
type Status string

// Section lifecycle. A section leaves StatusPending exactly once; the other
// three states are terminal and immutable.
const (
	StatusPending          Status = "pending"
	StatusSuccess          Status = "success"
	StatusExternalRedirect Status = "external_redirect"
	StatusFailed           Status = "failed"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusExternalRedirect || s == StatusFailed
}

// Section tracks one discovered document URL through extraction.
type Section struct {
	URL       string `json:"url"`
	Attempts  int    `json:"attempts"`
	Status    Status `json:"status"`
	LastError string `json:"last_error,omitempty"`
}

// Counters accumulates discovery accounting. UnreachableBranches counts
// navigation pages that exhausted their fetch retries; they are a reported
// coverage gap, not a silent loss.
type Counters struct {
	NavigationVisited   int `json:"navigation_visited"`
	SectionsDiscovered  int `json:"sections_discovered"`
	OutOfScope          int `json:"out_of_scope"`
	UnreachableBranches int `json:"unreachable_branches"`
}

// Snapshot is a read-only view of the store for status reporting.
type Snapshot struct {
	RunID      string         `json:"run_id"`
	QueueLen   int            `json:"queue_len"`
	Visited    int            `json:"visited"`
	Counters   Counters       `json:"counters"`
	ByStatus   map[Status]int `json:"by_status"`
	Checkpoint time.Time      `json:"last_checkpoint,omitempty"`
}

// Store is the single owner of traversal state. It is safe for concurrent
// use; discovery drives it from one goroutine while recovery workers claim
// and resolve sections through its methods.
type Store struct {
	mu sync.Mutex

	path  string
	runID string

	queue    []string
	visited  map[string]struct{}
	sections map[string]*Section
	order    []string
	counters Counters

	// claimed marks sections handed to an extraction worker in the current
	// pass. It is in-memory only; a crash simply releases all claims.
	claimed map[string]struct{}

	lastCheckpoint time.Time
	logger         *zap.Logger
}

// New creates an empty store whose checkpoints live at path.
func New(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		path:     path,
		runID:    uuid.NewString(),
		visited:  make(map[string]struct{}),
		sections: make(map[string]*Section),
		claimed:  make(map[string]struct{}),
		logger:   logger,
	}
}

// RunID identifies this harvest run; resumed runs keep the original ID.
func (s *Store) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// Seed places the start URL on an empty frontier.
func (s *Store) Seed(startURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 && len(s.visited) == 0 {
		s.queue = append(s.queue, startURL)
	}
}

// Enqueue appends a navigation URL to the back of the frontier. Already
// visited URLs are not re-enqueued.
func (s *Store) Enqueue(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.visited[url]; ok {
		return false
	}
	s.queue = append(s.queue, url)
	return true
}

// Pop removes the URL at the front of the frontier. FIFO order is what makes
// the traversal breadth-first.
func (s *Store) Pop() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return "", false
	}
	url := s.queue[0]
	s.queue = s.queue[1:]
	return url, true
}

// QueueLen returns the number of URLs awaiting a pop.
func (s *Store) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// MarkVisited records url as fetched. It returns false when the URL was
// already present; the visited set is the sole de-duplication authority.
func (s *Store) MarkVisited(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.visited[url]; ok {
		return false
	}
	s.visited[url] = struct{}{}
	s.counters.NavigationVisited++
	return true
}

// Restore returns an in-flight navigation URL to the front of the frontier,
// undoing its visited mark and visit count. An interrupted run calls this for
// the URL whose fetch was abandoned, so the checkpoint never records
// incomplete work as done and the resume expands the same subtree.
func (s *Store) Restore(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.visited[url]; !ok {
		return
	}
	delete(s.visited, url)
	s.counters.NavigationVisited--
	s.queue = append([]string{url}, s.queue...)
}

// IsVisited reports membership in the visited set.
func (s *Store) IsVisited(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.visited[url]
	return ok
}

// AddSection registers a discovered document URL for later extraction.
// Duplicate discoveries collapse to the first registration.
func (s *Store) AddSection(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sections[url]; ok {
		return false
	}
	s.sections[url] = &Section{URL: url, Status: StatusPending}
	s.order = append(s.order, url)
	s.counters.SectionsDiscovered++
	return true
}

// RecordOutOfScope notes a URL that exits the crawlable authority boundary.
// It enters the visited set so it is never queued, but is counted separately
// and never fetched.
func (s *Store) RecordOutOfScope(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.visited[url]; ok {
		return false
	}
	s.visited[url] = struct{}{}
	s.counters.OutOfScope++
	return true
}

// RecordUnreachable counts a navigation branch whose fetch retries were
// exhausted.
func (s *Store) RecordUnreachable(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.UnreachableBranches++
	s.logger.Warn("navigation branch permanently unreachable", zap.String("url", url))
}

// Counters returns a copy of the discovery counters.
func (s *Store) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// ClaimPending atomically claims every section that is still pending, below
// the attempt bound, and not already claimed. The returned URLs are in
// discovery order. Claiming before fetching is what prevents two workers
// from double-processing a section.
func (s *Store) ClaimPending(maxAttempts int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var claimable []string
	for _, url := range s.order {
		sec := s.sections[url]
		if sec.Status.Terminal() || sec.Attempts >= maxAttempts {
			continue
		}
		if _, ok := s.claimed[url]; ok {
			continue
		}
		s.claimed[url] = struct{}{}
		claimable = append(claimable, url)
	}
	return claimable
}

// ReleaseClaims clears all claims at a pass boundary.
func (s *Store) ReleaseClaims() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimed = make(map[string]struct{})
}

// RecordAttempt increments the attempt counter after a non-terminal outcome
// and keeps the last failure reason for the eventual Failed record.
func (s *Store) RecordAttempt(url, reason string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.sections[url]
	if !ok || sec.Status.Terminal() {
		return 0
	}
	sec.Attempts++
	sec.LastError = reason
	return sec.Attempts
}

// RecordTerminal transitions a section to a terminal status. The first
// transition wins; later calls are no-ops so a terminal section is never
// reprocessed, even across restarts.
func (s *Store) RecordTerminal(url string, status Status, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.sections[url]
	if !ok || sec.Status.Terminal() || !status.Terminal() {
		return false
	}
	sec.Status = status
	sec.LastError = reason
	return true
}

// Exhausted returns sections that are still pending but have reached the
// attempt bound. The coordinator turns these into terminal Failed records.
func (s *Store) Exhausted(maxAttempts int) []Section {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Section
	for _, url := range s.order {
		sec := s.sections[url]
		if !sec.Status.Terminal() && sec.Attempts >= maxAttempts {
			out = append(out, *sec)
		}
	}
	return out
}

// Section returns a copy of one tracked section.
func (s *Store) Section(url string) (Section, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.sections[url]
	if !ok {
		return Section{}, false
	}
	return *sec, true
}

// Sections returns a snapshot of every tracked section in discovery order.
func (s *Store) Sections() []Section {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Section, 0, len(s.order))
	for _, url := range s.order {
		out = append(out, *s.sections[url])
	}
	return out
}

// Snapshot assembles the status view served by the operator API.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	byStatus := make(map[Status]int, 4)
	for _, sec := range s.sections {
		byStatus[sec.Status]++
	}
	return Snapshot{
		RunID:      s.runID,
		QueueLen:   len(s.queue),
		Visited:    len(s.visited),
		Counters:   s.counters,
		ByStatus:   byStatus,
		Checkpoint: s.lastCheckpoint,
	}
}
