package signatures_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiestudio/aichatbot-sub000/pkg/features"
	"github.com/axiestudio/aichatbot-sub000/pkg/signatures"
	"github.com/axiestudio/aichatbot-sub000/pkg/types"
)

func extract(record *types.RequestRecord) *features.RequestFeatures {
	f := features.Extract(record)
	return &f
}

func familiesOf(matches []signatures.Match) []signatures.Family {
	out := make([]signatures.Family, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Family)
	}
	return out
}

func TestMatcherDetectsAttackFamilies(t *testing.T) {
	matcher := signatures.Default()

	tests := []struct {
		name     string
		record   *types.RequestRecord
		expected []signatures.Family
	}{
		{
			name: "sql injection in body",
			record: &types.RequestRecord{
				Method: "POST", Path: "/api/chat",
				Body: []byte(`{"query": "1 union select * from users"}`),
			},
			expected: []signatures.Family{signatures.SQLInjection},
		},
		{
			name: "xss in query",
			record: &types.RequestRecord{
				Method: "GET", Path: "/search",
				Query: map[string][]string{"q": {`<script>alert(1)</script>`}},
			},
			expected: []signatures.Family{signatures.XSS},
		},
		{
			name: "path traversal in path",
			record: &types.RequestRecord{
				Method: "GET", Path: "/files/../../etc/passwd",
			},
			expected: []signatures.Family{signatures.PathTraversal},
		},
		{
			name: "command injection plus traversal",
			record: &types.RequestRecord{
				Method: "POST", Path: "/api/run",
				Body: []byte(`name=x; cat /etc/passwd`),
			},
			expected: []signatures.Family{signatures.CommandInjection, signatures.PathTraversal},
		},
		{
			name: "credential stuffing combo list",
			record: &types.RequestRecord{
				Method: "POST", Path: "/login",
				Body: []byte("user@example.com:hunter22\nother@example.org:letmein1"),
			},
			expected: []signatures.Family{signatures.CredentialStuffing},
		},
		{
			name: "clean chat request",
			record: &types.RequestRecord{
				Method:  "POST",
				Path:    "/api/chat",
				Headers: map[string][]string{"Accept": {"application/json"}},
				Body:    []byte(`{"message": "hello there, how are you today"}`),
			},
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches := matcher.Match(extract(tt.record))
			assert.ElementsMatch(t, tt.expected, familiesOf(matches))
		})
	}
}

func TestMatcherReportsFamilyOnce(t *testing.T) {
	matcher := signatures.Default()

	// Body trips several sql patterns at once; the family must still be
	// reported a single time.
	record := &types.RequestRecord{
		Method: "POST", Path: "/api/chat",
		Body: []byte(`' OR 1=1; DROP TABLE users; -- union select password from creds`),
	}

	matches := matcher.Match(extract(record))

	count := 0
	for _, m := range matches {
		if m.Family == signatures.SQLInjection {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestMatcherScansNestedJSONStrings(t *testing.T) {
	matcher := signatures.Default()

	// The unicode escape hides UNION from a scan of the raw bytes; only
	// the decoded JSON string walk can see it.
	record := &types.RequestRecord{
		Method: "POST", Path: "/api/chat",
		Body: []byte(`{"outer": {"inner": ["harmless", "1 \u0055NION SELECT secret FROM vault"]}}`),
	}

	matches := matcher.Match(extract(record))
	assert.Contains(t, familiesOf(matches), signatures.SQLInjection)
}

func TestMatcherScansHeaderValues(t *testing.T) {
	matcher := signatures.Default()

	record := &types.RequestRecord{
		Method:  "GET",
		Path:    "/",
		Headers: map[string][]string{"Referer": {"javascript:alert(document.cookie)"}},
	}

	matches := matcher.Match(extract(record))
	assert.Contains(t, familiesOf(matches), signatures.XSS)
}

func TestNewMatcherWithOverrides(t *testing.T) {
	matcher, err := signatures.NewMatcher(map[string][]string{
		"ssrf": {`(?i)169\.254\.169\.254`},
	})
	require.NoError(t, err)

	record := &types.RequestRecord{
		Method: "GET", Path: "/proxy",
		Query: map[string][]string{"url": {"http://169.254.169.254/latest/meta-data"}},
	}

	matches := matcher.Match(extract(record))
	assert.Contains(t, familiesOf(matches), signatures.Family("ssrf"))
	assert.Contains(t, matcher.Families(), signatures.Family("ssrf"))
}

func TestNewMatcherRejectsBadPattern(t *testing.T) {
	_, err := signatures.NewMatcher(map[string][]string{
		"broken": {`(unclosed`},
	})
	assert.Error(t, err)
}
