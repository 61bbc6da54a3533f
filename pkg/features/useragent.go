package features

import (
	"math"
	"regexp"
	"strings"

	"github.com/avct/uasurfer"
)

// automationPatterns catch headless browsers, drivers and scanner
// tooling that no human client presents.
var automationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)headless`),
	regexp.MustCompile(`(?i)phantomjs`),
	regexp.MustCompile(`(?i)selenium`),
	regexp.MustCompile(`(?i)webdriver`),
	regexp.MustCompile(`(?i)puppeteer`),
	regexp.MustCompile(`(?i)playwright`),
	regexp.MustCompile(`(?i)sqlmap`),
	regexp.MustCompile(`(?i)nikto`),
	regexp.MustCompile(`(?i)nmap`),
	regexp.MustCompile(`(?i)masscan`),
	regexp.MustCompile(`(?i)zgrab`),
	regexp.MustCompile(`(?i)scrapy`),
	regexp.MustCompile(`(?i)python-requests`),
	regexp.MustCompile(`(?i)go-http-client`),
	regexp.MustCompile(`(?i)\bcurl\b`),
	regexp.MustCompile(`(?i)\bwget\b`),
	regexp.MustCompile(`(?i)httrack`),
}

var (
	bareToolUA       = regexp.MustCompile(`^[a-zA-Z-]+/[\d.]+$`)
	crawlerKeywordUA = regexp.MustCompile(`(?i)(bot|spider|crawler|scraper)`)
)

// MatchesAutomation reports whether the user-agent names automation or
// scanner tooling outright.
func MatchesAutomation(userAgent string) bool {
	for _, pattern := range automationPatterns {
		if pattern.MatchString(userAgent) {
			return true
		}
	}
	return false
}

// scoreUserAgent rates how bot-like a user-agent is, in [0,1]. An absent
// UA is already strong signal; otherwise heuristics stack up and the sum
// is capped.
func scoreUserAgent(userAgent string) float64 {
	if strings.TrimSpace(userAgent) == "" {
		return 0.9
	}

	if MatchesAutomation(userAgent) {
		return 0.95
	}

	score := 0.0
	if bareToolUA.MatchString(userAgent) {
		score += 0.4
	}
	if crawlerKeywordUA.MatchString(userAgent) {
		score += 0.5
	}
	if len(userAgent) > 200 {
		score += 0.2
	}

	ua := uasurfer.Parse(userAgent)
	if ua.DeviceType == uasurfer.DeviceUnknown {
		score += 0.3
	}

	return math.Min(1.0, score)
}
