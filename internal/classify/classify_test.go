package classify

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "lowercases scheme and host",
			in:   "HTTPS://Govt.Westlaw.Com/calregs/Index",
			want: "https://govt.westlaw.com/calregs/Index",
		},
		{
			name: "strips default port",
			in:   "https://govt.westlaw.com:443/calregs/Index",
			want: "https://govt.westlaw.com/calregs/Index",
		},
		{
			name: "removes fragment",
			in:   "https://govt.westlaw.com/calregs/Index#top",
			want: "https://govt.westlaw.com/calregs/Index",
		},
		{
			name: "sorts query parameters",
			in:   "https://govt.westlaw.com/calregs/Document/IABC?viewType=FullText&contextData=(sc.Default)",
			want: "https://govt.westlaw.com/calregs/Document/IABC?contextData=%28sc.Default%29&viewType=FullText",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeURL(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeURLRejectsRelative(t *testing.T) {
	t.Parallel()

	_, err := NormalizeURL("/calregs/Index")
	require.Error(t, err)
}

func TestResolveLink(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://govt.westlaw.com/calregs/Browse/Home/California")
	require.NoError(t, err)

	got, err := ResolveLink(base, "/calregs/Document/IABCDEF?viewType=FullText")
	require.NoError(t, err)
	require.Equal(t, "https://govt.westlaw.com/calregs/Document/IABCDEF?viewType=FullText", got)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	c := New(DefaultConfig())

	tests := []struct {
		name string
		url  string
		want Kind
	}{
		{
			name: "index root is navigation",
			url:  "https://govt.westlaw.com/calregs/Index",
			want: KindNavigation,
		},
		{
			name: "browse page is navigation",
			url:  "https://govt.westlaw.com/calregs/Browse/Home/California/CaliforniaCodeofRegulations",
			want: KindNavigation,
		},
		{
			name: "document page is section",
			url:  "https://govt.westlaw.com/calregs/Document/I943C96035A1E11EC8227000D3A7C4BC3?viewType=FullText",
			want: KindSection,
		},
		{
			name: "external authority marker is out of scope before any fetch",
			url:  "https://govt.westlaw.com/calregs/Browse/Home/California/Title24?transitionType=ExternalLink",
			want: KindOutOfScope,
		},
		{
			name: "foreign host is out of scope",
			url:  "https://www.dgs.ca.gov/BSC",
			want: KindOutOfScope,
		},
		{
			name: "non-catalog path is out of scope",
			url:  "https://govt.westlaw.com/Signon",
			want: KindOutOfScope,
		},
		{
			name: "garbage is out of scope",
			url:  "://not-a-url",
			want: KindOutOfScope,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, c.Classify(tc.url))
		})
	}
}

func TestClassifyCachesPriorResult(t *testing.T) {
	t.Parallel()

	c := New(DefaultConfig())
	const u = "https://govt.westlaw.com/calregs/Browse/Home/California"

	require.Equal(t, KindNavigation, c.Classify(u))

	// A second call must come from the cache, not re-derivation.
	c.mu.Lock()
	c.cache[u] = KindOutOfScope
	c.mu.Unlock()
	require.Equal(t, KindOutOfScope, c.Classify(u))
}
