// Package output persists terminal section outcomes. Records are append-only
// and immutable once written; the stable content GUID is the dedupe key so
// URL variants of the same document collapse to one record.
package output

import (
	"context"
	"time"

	"github.com/regsdata/calregs-harvester/internal/extract"
)

// Kind tags a terminal record.
type Kind string

// Terminal record kinds. Every discovered section ends up with exactly one.
const (
	KindSuccess          Kind = "success"
	KindExternalRedirect Kind = "external_redirect"
	KindFailed           Kind = "failed"
)

// Record is one terminal outcome for a discovered section URL.
type Record struct {
	Kind          Kind            `json:"kind"`
	URL           string          `json:"url"`
	GUID          string          `json:"guid,omitempty"`
	Section       *extract.Record `json:"section,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Attempts      int             `json:"attempts,omitempty"`
	RunID         string          `json:"run_id,omitempty"`
	RecordedAt    time.Time       `json:"recorded_at"`
}

// Key is the dedupe identity: the content GUID when extraction produced one,
// otherwise the URL.
func (r Record) Key() string {
	if r.GUID != "" {
		return r.GUID
	}
	return r.URL
}

// Store appends terminal records. Append reports false when the record's key
// was already written, which is how duplicate discoveries collapse.
type Store interface {
	Append(ctx context.Context, rec Record) (bool, error)
	Close() error
}
