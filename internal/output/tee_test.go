package output

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubStore struct {
	keys     map[string]struct{}
	appends  int
	closed   bool
	appendFn func(Record) (bool, error)
}

func newStubStore() *stubStore {
	s := &stubStore{keys: make(map[string]struct{})}
	s.appendFn = func(rec Record) (bool, error) {
		if _, ok := s.keys[rec.Key()]; ok {
			return false, nil
		}
		s.keys[rec.Key()] = struct{}{}
		return true, nil
	}
	return s
}

func (s *stubStore) Append(_ context.Context, rec Record) (bool, error) {
	s.appends++
	return s.appendFn(rec)
}

func (s *stubStore) Close() error {
	s.closed = true
	return nil
}

func TestTeeMirrorsAcceptedRecords(t *testing.T) {
	primary, mirror := newStubStore(), newStubStore()
	tee := NewTee(primary, mirror)

	rec := Record{Kind: KindSuccess, URL: "https://govt.westlaw.com/calregs/Document/I1", GUID: "I1", RecordedAt: time.Now()}
	written, err := tee.Append(context.Background(), rec)
	require.NoError(t, err)
	require.True(t, written)
	require.Equal(t, 1, mirror.appends)

	// A duplicate is rejected by the primary and never reaches the mirror.
	written, err = tee.Append(context.Background(), rec)
	require.NoError(t, err)
	require.False(t, written)
	require.Equal(t, 1, mirror.appends)
}

func TestTeeSurfacesMirrorError(t *testing.T) {
	primary, mirror := newStubStore(), newStubStore()
	mirror.appendFn = func(Record) (bool, error) { return false, errors.New("connection refused") }
	tee := NewTee(primary, mirror)

	written, err := tee.Append(context.Background(), Record{Kind: KindFailed, URL: "u"})
	require.True(t, written, "the primary write still counts")
	require.Error(t, err)
}

func TestTeeCloseClosesBoth(t *testing.T) {
	primary, mirror := newStubStore(), newStubStore()
	require.NoError(t, NewTee(primary, mirror).Close())
	require.True(t, primary.closed)
	require.True(t, mirror.closed)
}
