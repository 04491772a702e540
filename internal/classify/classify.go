// Package classify decides, from URL shape alone, how the harvester should
// treat a link: follow it, extract it, or record it as out of scope.
package classify

import (
	"net/url"
	"strings"
	"sync"
)

// Kind is the traversal class of a URL.
type Kind string

// Classification results. Navigation pages are traversed breadth-first,
// Section pages are queued for extraction, and OutOfScope URLs are recorded
// once and never fetched.
const (
	KindNavigation Kind = "navigation"
	KindSection    Kind = "section"
	KindOutOfScope Kind = "out_of_scope"
)

// Config describes the URL shapes of the catalog being harvested.
type Config struct {
	// Host restricts classification to a single catalog authority.
	Host string
	// NavigationPrefixes are path prefixes of browse/listing pages.
	NavigationPrefixes []string
	// IndexPaths are exact paths treated as navigation roots.
	IndexPaths []string
	// SectionPrefix is the path prefix of atomic document pages.
	SectionPrefix string
	// OutOfScopeParams marks query parameter values that identify sub-trees
	// served by an external authority. They are a scope boundary, not an
	// optimization: matching URLs are never fetched.
	OutOfScopeParams map[string][]string
}

// DefaultConfig matches the California Code of Regulations catalog.
func DefaultConfig() Config {
	return Config{
		Host:               "govt.westlaw.com",
		NavigationPrefixes: []string{"/calregs/Browse/"},
		IndexPaths:         []string{"/calregs/Index"},
		SectionPrefix:      "/calregs/Document/",
		OutOfScopeParams: map[string][]string{
			"transitionType": {"ExternalLink"},
		},
	}
}

// Classifier maps normalized URLs to a Kind. Classification is a pure
// function of the URL; an internal cache guarantees a URL that was already
// classified yields the same answer without re-derivation.
type Classifier struct {
	cfg Config

	mu    sync.RWMutex
	cache map[string]Kind
}

// New builds a Classifier for the given catalog shapes.
func New(cfg Config) *Classifier {
	return &Classifier{
		cfg:   cfg,
		cache: make(map[string]Kind),
	}
}

// Classify returns the traversal class of a normalized URL. Unparseable URLs
// and URLs outside the catalog authority are out of scope.
func (c *Classifier) Classify(normalized string) Kind {
	c.mu.RLock()
	kind, ok := c.cache[normalized]
	c.mu.RUnlock()
	if ok {
		return kind
	}

	kind = c.derive(normalized)

	c.mu.Lock()
	c.cache[normalized] = kind
	c.mu.Unlock()
	return kind
}

func (c *Classifier) derive(normalized string) Kind {
	u, err := url.Parse(normalized)
	if err != nil {
		return KindOutOfScope
	}
	if c.cfg.Host != "" && !strings.EqualFold(u.Hostname(), c.cfg.Host) {
		return KindOutOfScope
	}
	if c.externalAuthority(u) {
		return KindOutOfScope
	}

	path := u.Path
	if c.cfg.SectionPrefix != "" && strings.HasPrefix(path, c.cfg.SectionPrefix) {
		return KindSection
	}
	for _, prefix := range c.cfg.NavigationPrefixes {
		if strings.HasPrefix(path, prefix) {
			return KindNavigation
		}
	}
	for _, index := range c.cfg.IndexPaths {
		if path == index {
			return KindNavigation
		}
	}
	return KindOutOfScope
}

// IsExternalAuthority reports whether the URL sits on the catalog host but
// carries a marker routing it to a different publisher. These are the
// out-of-scope URLs worth recording; arbitrary foreign links are not.
func (c *Classifier) IsExternalAuthority(normalized string) bool {
	u, err := url.Parse(normalized)
	if err != nil {
		return false
	}
	if c.cfg.Host != "" && !strings.EqualFold(u.Hostname(), c.cfg.Host) {
		return false
	}
	return c.externalAuthority(u)
}

// externalAuthority reports whether a query parameter marks the URL as the
// entry point of a sub-tree served by a different publisher.
func (c *Classifier) externalAuthority(u *url.URL) bool {
	if len(c.cfg.OutOfScopeParams) == 0 {
		return false
	}
	q := u.Query()
	for key, values := range c.cfg.OutOfScopeParams {
		got := q.Get(key)
		if got == "" {
			continue
		}
		for _, v := range values {
			if strings.EqualFold(got, v) {
				return true
			}
		}
	}
	return false
}
