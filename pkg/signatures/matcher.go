package signatures

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/valyala/fastjson"

	"github.com/axiestudio/aichatbot-sub000/pkg/features"
)

const maxJSONDepth = 16

// Pattern is one compiled expression inside a family.
type Pattern struct {
	Name  string
	Regex *regexp.Regexp
}

// Match reports a family hit and the pattern that produced it.
type Match struct {
	Family  Family `json:"family"`
	Pattern string `json:"pattern"`
}

type familyPatterns struct {
	family   Family
	patterns []Pattern
}

// Matcher scans request content against the pattern table. Immutable
// after construction, so a policy reload builds a fresh one and swaps it
// in; matching itself is pure and safe for unrestricted concurrent use.
type Matcher struct {
	families []familyPatterns
}

// NewMatcher builds a matcher from the compiled-in table with the given
// per-family overrides. An override replaces that family's defaults
// wholesale; unknown family names define new families. A pattern that
// fails to compile rejects the whole set so a reload never half-applies.
func NewMatcher(overrides map[string][]string) (*Matcher, error) {
	table := make(map[Family][]Pattern, len(defaultTable))
	for family, raws := range defaultTable {
		patterns := make([]Pattern, 0, len(raws))
		for _, raw := range raws {
			patterns = append(patterns, Pattern{Name: raw.name, Regex: regexp.MustCompile(raw.expr)})
		}
		table[family] = patterns
	}

	for name, exprs := range overrides {
		family := Family(name)
		patterns := make([]Pattern, 0, len(exprs))
		for i, expr := range exprs {
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("signature family %s pattern %d: %w", name, i, err)
			}
			patterns = append(patterns, Pattern{Name: fmt.Sprintf("%s_%02d", name, i), Regex: re})
		}
		table[family] = patterns
	}

	families := make([]familyPatterns, 0, len(table))
	for family, patterns := range table {
		families = append(families, familyPatterns{family: family, patterns: patterns})
	}
	sort.Slice(families, func(i, j int) bool { return families[i].family < families[j].family })

	return &Matcher{families: families}, nil
}

// Default returns a matcher over the compiled-in table only.
func Default() *Matcher {
	m, err := NewMatcher(nil)
	if err != nil {
		panic(err)
	}
	return m
}

// Match scans path, query, body, header values and any string reachable
// inside a JSON body. The first matching pattern closes its family; the
// result lists families in name order.
func (m *Matcher) Match(f *features.RequestFeatures) []Match {
	content := buildCorpus(f)

	var matches []Match
	for _, fp := range m.families {
		for _, p := range fp.patterns {
			if p.Regex.MatchString(content) {
				matches = append(matches, Match{Family: fp.family, Pattern: p.Name})
				break
			}
		}
	}
	return matches
}

// Families lists the family names the matcher currently carries.
func (m *Matcher) Families() []Family {
	out := make([]Family, 0, len(m.families))
	for _, fp := range m.families {
		out = append(out, fp.family)
	}
	return out
}

func buildCorpus(f *features.RequestFeatures) string {
	var sb strings.Builder
	sb.WriteString(f.Path)
	sb.WriteByte('\n')
	sb.WriteString(f.RawQuery())
	sb.WriteByte('\n')
	sb.WriteString(f.BodyExcerpt)

	keys := make([]string, 0, len(f.Headers))
	for k := range f.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range f.Headers[k] {
			sb.WriteByte('\n')
			sb.WriteString(v)
		}
	}

	// JSON payloads hide attack strings behind escaping; scan the decoded
	// values too.
	for _, s := range jsonStrings(f.BodyExcerpt) {
		sb.WriteByte('\n')
		sb.WriteString(s)
	}

	return sb.String()
}

func jsonStrings(body string) []string {
	if body == "" {
		return nil
	}
	var p fastjson.Parser
	v, err := p.Parse(body)
	if err != nil {
		return nil
	}
	var out []string
	collectStrings(v, &out, 0)
	return out
}

func collectStrings(v *fastjson.Value, out *[]string, depth int) {
	if depth > maxJSONDepth {
		return
	}
	switch v.Type() {
	case fastjson.TypeObject:
		obj, err := v.Object()
		if err != nil {
			return
		}
		obj.Visit(func(key []byte, value *fastjson.Value) {
			*out = append(*out, string(key))
			collectStrings(value, out, depth+1)
		})
	case fastjson.TypeArray:
		arr, err := v.Array()
		if err != nil {
			return
		}
		for _, item := range arr {
			collectStrings(item, out, depth+1)
		}
	case fastjson.TypeString:
		b, err := v.StringBytes()
		if err != nil {
			return
		}
		*out = append(*out, string(b))
	}
}
