// Package report assembles coverage reports over a harvest run: how much of
// the catalog was reached, how every discovered section ended, and where the
// known gaps are.
package report

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/regsdata/calregs-harvester/internal/frontier"
	"github.com/regsdata/calregs-harvester/internal/output"
)

// ErrConservation marks a run whose section accounting does not add up:
// terminal plus pending sections must equal the number discovered. A
// violation means corrupted state, not a coverage gap.
var ErrConservation = errors.New("section accounting violated")

// unknownTitle groups records whose hierarchy carries no top-level title.
const unknownTitle = "(unknown title)"

// Totals aggregates the run-wide counts.
type Totals struct {
	NavigationVisited   int `json:"navigation_visited"`
	SectionsDiscovered  int `json:"sections_discovered"`
	Succeeded           int `json:"succeeded"`
	ExternalRedirects   int `json:"external_redirects"`
	Failed              int `json:"failed"`
	Pending             int `json:"pending"`
	OutOfScope          int `json:"out_of_scope"`
	UnreachableBranches int `json:"unreachable_branches"`
}

// TitleCoverage breaks outcomes down by the top-level title a section sits
// under.
type TitleCoverage struct {
	Title             string `json:"title"`
	Succeeded         int    `json:"succeeded"`
	ExternalRedirects int    `json:"external_redirects"`
	Failed            int    `json:"failed"`
}

// Failure lists one terminally failed section for operator follow-up.
type Failure struct {
	URL      string `json:"url"`
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts"`
}

// Report is the full coverage picture of one run.
type Report struct {
	RunID       string          `json:"run_id"`
	GeneratedAt time.Time       `json:"generated_at"`
	Complete    bool            `json:"complete"`
	Totals      Totals          `json:"totals"`
	ByTitle     []TitleCoverage `json:"by_title"`
	Failures    []Failure       `json:"failures,omitempty"`
	Issues      []string        `json:"issues,omitempty"`
}

// Build assembles a report from the frontier state and the written outcome
// records. It fails hard on an accounting violation and reports everything
// else as a soft issue.
func Build(store *frontier.Store, records []output.Record) (Report, error) {
	snap := store.Snapshot()
	sections := store.Sections()

	r := Report{
		RunID:       snap.RunID,
		GeneratedAt: time.Now().UTC(),
		Totals: Totals{
			NavigationVisited:   snap.Counters.NavigationVisited,
			SectionsDiscovered:  snap.Counters.SectionsDiscovered,
			OutOfScope:          snap.Counters.OutOfScope,
			UnreachableBranches: snap.Counters.UnreachableBranches,
		},
	}

	for _, sec := range sections {
		switch sec.Status {
		case frontier.StatusSuccess:
			r.Totals.Succeeded++
		case frontier.StatusExternalRedirect:
			r.Totals.ExternalRedirects++
		case frontier.StatusFailed:
			r.Totals.Failed++
			r.Failures = append(r.Failures, Failure{URL: sec.URL, Reason: sec.LastError, Attempts: sec.Attempts})
		default:
			r.Totals.Pending++
		}
	}

	accounted := r.Totals.Succeeded + r.Totals.ExternalRedirects + r.Totals.Failed + r.Totals.Pending
	if accounted != r.Totals.SectionsDiscovered {
		return Report{}, fmt.Errorf("%w: %d terminal+pending vs %d discovered",
			ErrConservation, accounted, r.Totals.SectionsDiscovered)
	}
	r.Complete = r.Totals.Pending == 0

	r.ByTitle = groupByTitle(records)
	r.Issues = validate(r, records)
	return r, nil
}

func groupByTitle(records []output.Record) []TitleCoverage {
	byTitle := make(map[string]*TitleCoverage)
	bump := func(title string, kind output.Kind) {
		tc, ok := byTitle[title]
		if !ok {
			tc = &TitleCoverage{Title: title}
			byTitle[title] = tc
		}
		switch kind {
		case output.KindSuccess:
			tc.Succeeded++
		case output.KindExternalRedirect:
			tc.ExternalRedirects++
		case output.KindFailed:
			tc.Failed++
		}
	}

	for _, rec := range records {
		title := unknownTitle
		if rec.Section != nil && rec.Section.Hierarchy.Title != nil {
			title = *rec.Section.Hierarchy.Title
		}
		bump(title, rec.Kind)
	}

	out := make([]TitleCoverage, 0, len(byTitle))
	for _, tc := range byTitle {
		out = append(out, *tc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}

// validate collects soft dataset problems: incompleteness, duplicate record
// keys, and success records missing the fields a usable dataset needs.
func validate(r Report, records []output.Record) []string {
	var issues []string
	if !r.Complete {
		issues = append(issues, fmt.Sprintf("%d sections still pending extraction", r.Totals.Pending))
	}
	if r.Totals.UnreachableBranches > 0 {
		issues = append(issues, fmt.Sprintf("%d navigation branches were unreachable; their descendants are uncounted", r.Totals.UnreachableBranches))
	}

	seen := make(map[string]struct{}, len(records))
	dupes, missingText, missingTitle := 0, 0, 0
	for _, rec := range records {
		if _, ok := seen[rec.Key()]; ok {
			dupes++
		}
		seen[rec.Key()] = struct{}{}
		if rec.Kind != output.KindSuccess {
			continue
		}
		if rec.Section == nil || rec.Section.TextPlain == "" {
			missingText++
		}
		if rec.Section == nil || rec.Section.Hierarchy.Title == nil {
			missingTitle++
		}
	}
	if dupes > 0 {
		issues = append(issues, fmt.Sprintf("%d duplicate record keys in output", dupes))
	}
	if missingText > 0 {
		issues = append(issues, fmt.Sprintf("%d success records have no body text", missingText))
	}
	if missingTitle > 0 {
		issues = append(issues, fmt.Sprintf("%d success records have no top-level title", missingTitle))
	}
	return issues
}

// WriteText renders the report for a terminal.
func (r Report) WriteText(w io.Writer) error {
	var err error
	p := func(format string, args ...any) {
		if err == nil {
			_, err = fmt.Fprintf(w, format+"\n", args...)
		}
	}

	p("Harvest coverage report")
	p("  run:         %s", r.RunID)
	p("  generated:   %s", r.GeneratedAt.Format(time.RFC3339))
	p("  complete:    %t", r.Complete)
	p("")
	p("  navigation visited:   %d", r.Totals.NavigationVisited)
	p("  sections discovered:  %d", r.Totals.SectionsDiscovered)
	p("    succeeded:          %d", r.Totals.Succeeded)
	p("    external redirects: %d", r.Totals.ExternalRedirects)
	p("    failed:             %d", r.Totals.Failed)
	p("    pending:            %d", r.Totals.Pending)
	p("  out of scope:         %d", r.Totals.OutOfScope)
	p("  unreachable branches: %d", r.Totals.UnreachableBranches)

	if len(r.ByTitle) > 0 {
		p("")
		p("  coverage by title:")
		for _, tc := range r.ByTitle {
			p("    %-40s ok=%d redirect=%d failed=%d", tc.Title, tc.Succeeded, tc.ExternalRedirects, tc.Failed)
		}
	}
	if len(r.Failures) > 0 {
		p("")
		p("  failures:")
		for _, f := range r.Failures {
			p("    %s (attempts=%d): %s", f.URL, f.Attempts, f.Reason)
		}
	}
	for _, issue := range r.Issues {
		p("  issue: %s", issue)
	}
	return err
}
