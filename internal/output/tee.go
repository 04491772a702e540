package output

import (
	"context"
	"errors"
)

// Tee writes records to a primary store and mirrors them to a secondary one.
// The primary decides whether a record is new; the mirror sees only records
// the primary accepted, so both stay key-consistent.
type Tee struct {
	primary Store
	mirror  Store
}

// NewTee combines two stores. The first is authoritative for dedupe.
func NewTee(primary, mirror Store) *Tee {
	return &Tee{primary: primary, mirror: mirror}
}

// Append writes to the primary, then mirrors accepted records.
func (t *Tee) Append(ctx context.Context, rec Record) (bool, error) {
	written, err := t.primary.Append(ctx, rec)
	if err != nil || !written {
		return written, err
	}
	if _, err := t.mirror.Append(ctx, rec); err != nil {
		return true, err
	}
	return true, nil
}

// Close closes both stores.
func (t *Tee) Close() error {
	return errors.Join(t.primary.Close(), t.mirror.Close())
}
