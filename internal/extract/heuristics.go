package extract

import (
	"regexp"
	"strings"

	"flashpipe/internal/core"
)

// Signature patterns over the raw HTML used when every cascade method
// falls short of the acceptance threshold.
var (
	jsIndicators = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<noscript[^>]*>.*?enable\s+javascript`),
		regexp.MustCompile(`(?i)window\.__NUXT__`),
		regexp.MustCompile(`(?i)<div[^>]*id=["']app["'][^>]*>\s*</div>`),
		regexp.MustCompile(`(?i)react-root|__next`),
	}

	consentIndicators = []*regexp.Regexp{
		regexp.MustCompile(`(?i)cookie[- ]?consent|cookie[- ]?banner|gdpr`),
		regexp.MustCompile(`(?i)accept.*cookies|manage.*preferences`),
	}

	paywallIndicators = []*regexp.Regexp{
		regexp.MustCompile(`(?i)subscribe\s+to\s+continue|paywall|premium\s+content`),
		regexp.MustCompile(`(?i)sign\s+in\s+to\s+read|create.*account.*to.*continue`),
	}

	bodyRe = regexp.MustCompile(`(?is)<body[^>]*>(.*?)</body>`)
	tagRe  = regexp.MustCompile(`<[^>]+>`)
)

// classifyFailure inspects raw HTML for paywall, consent, and
// script-shell signatures. sawText reports whether any method produced
// at least some text (below the threshold).
func classifyFailure(html string, sawText bool) core.FailureReason {
	if strings.TrimSpace(html) == "" {
		return core.ReasonNoText
	}
	if anyMatch(paywallIndicators, html) {
		return core.ReasonPaywall
	}
	if anyMatch(consentIndicators, html) {
		return core.ReasonConsentWall
	}
	if anyMatch(jsIndicators, html) && emptyBodyShell(html) {
		return core.ReasonJSRequired
	}
	if sawText {
		return core.ReasonTooShort
	}
	return core.ReasonNoText
}

func anyMatch(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// emptyBodyShell reports whether the visible body text is nearly empty,
// the signature of an SPA shell awaiting JS.
func emptyBodyShell(html string) bool {
	m := bodyRe.FindStringSubmatch(html)
	if m == nil {
		return false
	}
	visible := strings.TrimSpace(tagRe.ReplaceAllString(m[1], ""))
	return len(visible) < 100
}

// BrowserWorthReason reports whether the reason indicates the page may
// render with a real browser.
func BrowserWorthReason(reason core.FailureReason) bool {
	return reason == core.ReasonJSRequired || reason == core.ReasonConsentWall
}
