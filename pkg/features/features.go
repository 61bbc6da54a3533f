package features

import (
	"math"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"github.com/axiestudio/aichatbot-sub000/pkg/types"
)

const maxBodyExcerpt = 8192

// RequestFeatures is the normalized, immutable view of one request. It is
// built once, handed through the pipeline, and discarded with the
// decision; only derived scores outlive it.
type RequestFeatures struct {
	Method        string
	Path          string
	Query         map[string][]string
	Headers       map[string][]string
	BodyExcerpt   string
	SourceAddress string
	UserAgent     string
	Identity      string
	Timestamp     time.Time

	PriorStatus  int
	PriorLatency time.Duration

	PayloadEntropy    float64
	SuspiciousPattern bool
	UASuspicion       float64
}

// Extract derives features from a raw record. Pure: no clock, no
// randomness, no I/O. Missing fields become zero values, never errors,
// and byte-identical input yields byte-identical output.
func Extract(record *types.RequestRecord) RequestFeatures {
	if record == nil {
		record = &types.RequestRecord{}
	}

	headers := canonicalHeaders(record.Headers)

	userAgent := record.UserAgent
	if userAgent == "" {
		userAgent = headerValue(headers, "User-Agent")
	}

	body := string(record.Body)
	if len(body) > maxBodyExcerpt {
		body = body[:maxBodyExcerpt]
	}

	rawQuery := encodeQuery(record.Query)

	f := RequestFeatures{
		Method:        strings.ToUpper(record.Method),
		Path:          record.Path,
		Query:         record.Query,
		Headers:       headers,
		BodyExcerpt:   body,
		SourceAddress: record.SourceAddress,
		UserAgent:     userAgent,
		Identity:      record.EffectiveIdentity(),
		Timestamp:     record.Timestamp,
		PriorStatus:   record.PriorStatus,
		PriorLatency:  record.PriorLatency,
	}

	f.PayloadEntropy = shannonEntropy(body + rawQuery)
	f.SuspiciousPattern = hasSuspiciousStructure(record.Path, rawQuery)
	f.UASuspicion = scoreUserAgent(userAgent)

	return f
}

// Action names the operation this request performs, the unit the
// behavioral baseline tracks frequencies for.
func (f *RequestFeatures) Action() string {
	return f.Method + " " + f.Path
}

// RawQuery rebuilds the query string in sorted key order so downstream
// scanning sees a stable byte sequence.
func (f *RequestFeatures) RawQuery() string {
	return encodeQuery(f.Query)
}

// shannonEntropy returns bits per character. Random, encrypted or
// compressed payloads sit near 6 and above; natural text well below.
func shannonEntropy(text string) float64 {
	if len(text) == 0 {
		return 0
	}
	counts := make(map[rune]float64)
	total := 0.0
	for _, r := range text {
		counts[r]++
		total++
	}

	// Sum in rune order: map iteration order varies per run and float
	// addition is not associative, so an unordered sum can drift by an
	// ulp between calls on the same input.
	runes := make([]rune, 0, len(counts))
	for r := range counts {
		runes = append(runes, r)
	}
	sort.Slice(runes, func(i, j int) bool { return runes[i] < runes[j] })

	entropy := 0.0
	for _, r := range runes {
		p := counts[r] / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}

const maxQueryLength = 2048

var disallowedExtensions = []string{
	".php", ".asp", ".aspx", ".jsp", ".cgi", ".exe", ".dll", ".sh", ".bat",
}

var adminSegments = []string{
	"/admin", "/wp-admin", "/phpmyadmin", "/.env", "/.git", "/backup", "/config",
}

func hasSuspiciousStructure(path, rawQuery string) bool {
	if len(rawQuery) > maxQueryLength {
		return true
	}
	combined := strings.ToLower(path + "?" + rawQuery)
	if strings.Contains(combined, "%25") {
		return true
	}
	lowerPath := strings.ToLower(path)
	for _, ext := range disallowedExtensions {
		if strings.HasSuffix(lowerPath, ext) {
			return true
		}
	}
	for _, segment := range adminSegments {
		if strings.Contains(lowerPath, segment) {
			return true
		}
	}
	return false
}

func encodeQuery(query map[string][]string) string {
	if len(query) == 0 {
		return ""
	}
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		for _, v := range query[k] {
			if sb.Len() > 0 {
				sb.WriteByte('&')
			}
			sb.WriteString(k)
			sb.WriteByte('=')
			sb.WriteString(v)
		}
	}
	return sb.String()
}

// canonicalHeaders rebuilds the header map under canonical MIME keys,
// merging duplicates in sorted order so extraction stays deterministic
// whatever casing the caller used.
func canonicalHeaders(headers map[string][]string) map[string][]string {
	if len(headers) == 0 {
		return nil
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string][]string, len(headers))
	for _, k := range keys {
		canonical := textproto.CanonicalMIMEHeaderKey(k)
		out[canonical] = append(out[canonical], headers[k]...)
	}
	return out
}

func headerValue(headers map[string][]string, key string) string {
	values := headers[textproto.CanonicalMIMEHeaderKey(key)]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
