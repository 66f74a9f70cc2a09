// Package extract implements the deterministic four-method article
// text extraction cascade. The cascade is pure: no I/O, same input
// gives the same output.
package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"flashpipe/internal/core"
)

// Method names, in cascade order.
const (
	MethodDensity     = "density"
	MethodReadability = "readability"
	MethodStopword    = "stopword"
	MethodBlockScore  = "blockscore"
)

// Result is the output of a successful extraction.
type Result struct {
	Text   string
	Method string
	Chars  int
}

// Error is a classified extraction failure.
type Error struct {
	Reason core.FailureReason
	Tried  []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("extract: all methods failed (reason=%s, tried=%s)",
		e.Reason, strings.Join(e.Tried, ","))
}

type extractor struct {
	name string
	fn   func(html string, pageURL *url.URL) (string, error)
}

var cascade = []extractor{
	{MethodDensity, extractDensity},
	{MethodReadability, extractReadability},
	{MethodStopword, extractStopword},
	{MethodBlockScore, extractBlockScore},
}

// Extract runs the cascade on raw HTML. The first method yielding at
// least minLength non-whitespace characters wins. When every method
// falls short, the raw HTML is inspected for paywall/consent/JS
// signatures to produce a typed reason.
func Extract(html string, rawURL string, minLength int) (*Result, error) {
	if minLength <= 0 {
		minLength = 250
	}
	if strings.TrimSpace(html) == "" {
		return nil, &Error{Reason: core.ReasonNoText}
	}

	pageURL, err := url.Parse(rawURL)
	if err != nil {
		pageURL = &url.URL{}
	}

	var tried []string
	sawText := false
	for _, ex := range cascade {
		text, err := ex.fn(html, pageURL)
		if err != nil {
			tried = append(tried, ex.name+":error")
			continue
		}
		text = sanitizeText(text)
		if nonWhitespaceLen(text) >= minLength {
			return &Result{Text: text, Method: ex.name, Chars: len(text)}, nil
		}
		if text != "" {
			sawText = true
		}
		tried = append(tried, fmt.Sprintf("%s:short(%d)", ex.name, len(text)))
	}

	reason := classifyFailure(html, sawText)
	return nil, &Error{Reason: reason, Tried: tried}
}

// nonWhitespaceLen counts the characters that are not whitespace,
// which is what the acceptance threshold is defined over.
func nonWhitespaceLen(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

var (
	spaceRun   = regexp.MustCompile(`[ \t]+`)
	newlineRun = regexp.MustCompile(`\n{3,}`)
	ctrlChars  = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]")
)

// sanitizeText strips control characters and normalizes whitespace
// while preserving paragraph breaks.
func sanitizeText(text string) string {
	text = ctrlChars.ReplaceAllString(text, "")
	text = spaceRun.ReplaceAllString(text, " ")
	text = newlineRun.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// ── Method 1: density (container with the most paragraph text) ──

var strippedSelectors = "script, style, nav, footer, header, aside, form, iframe, noscript, " +
	".sidebar, #sidebar, .ad, .advertisement, .popup, .modal, .cookie-banner"

var candidateSelectors = []string{
	"article", "main", "[role='main']",
	".main-content", ".entry-content", ".post-content", ".post-body", ".article-body",
	".content", "#content",
}

func extractDensity(html string, _ *url.URL) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse document: %w", err)
	}
	doc.Find(strippedSelectors).Remove()

	var best string
	for _, selector := range candidateSelectors {
		var b strings.Builder
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			s.Find("p, h1, h2, h3, h4, h5, h6, li, blockquote, pre").Each(func(_ int, item *goquery.Selection) {
				t := strings.TrimSpace(item.Text())
				if t != "" {
					b.WriteString(t)
					b.WriteString("\n\n")
				}
			})
		})
		if b.Len() > len(best) {
			best = b.String()
		}
	}

	if best == "" {
		var b strings.Builder
		doc.Find("body").Find("p, h1, h2, h3, li, blockquote").Each(func(_ int, item *goquery.Selection) {
			t := strings.TrimSpace(item.Text())
			if t != "" {
				b.WriteString(t)
				b.WriteString("\n\n")
			}
		})
		best = b.String()
	}
	return best, nil
}

// ── Method 2: readability ──

func extractReadability(html string, pageURL *url.URL) (string, error) {
	article, err := readability.FromReader(strings.NewReader(html), pageURL)
	if err != nil {
		return "", fmt.Errorf("readability: %w", err)
	}
	return article.TextContent, nil
}

// ── Method 3: stopword-ratio paragraph filter ──

// A paragraph dominated by function words reads as prose; boilerplate
// (menus, button labels, copyright lines) has a much lower ratio.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"of": true, "in": true, "on": true, "at": true, "to": true, "for": true,
	"with": true, "by": true, "from": true, "as": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "has": true, "have": true,
	"had": true, "it": true, "its": true, "that": true, "this": true, "which": true,
	"he": true, "she": true, "they": true, "his": true, "her": true, "their": true,
	"not": true, "no": true, "will": true, "would": true, "said": true,
}

func extractStopword(html string, _ *url.URL) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse document: %w", err)
	}
	doc.Find(strippedSelectors).Remove()

	var keep []string
	doc.Find("p, blockquote").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		words := strings.Fields(strings.ToLower(text))
		if len(words) < 8 {
			return
		}
		stops := 0
		for _, w := range words {
			if stopwords[strings.Trim(w, ".,;:!?\"'()")] {
				stops++
			}
		}
		if float64(stops)/float64(len(words)) >= 0.18 {
			keep = append(keep, text)
		}
	})
	return strings.Join(keep, "\n\n"), nil
}

// ── Method 4: block scoring (text/link density per block) ──

func extractBlockScore(html string, _ *url.URL) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse document: %w", err)
	}
	doc.Find("script, style, noscript").Remove()

	type block struct {
		text  string
		score float64
	}
	var blocks []block

	doc.Find("p, div, td, section").Each(func(_ int, s *goquery.Selection) {
		if s.Children().Filter("p, div, section").Length() > 0 {
			return // only leaf-ish blocks
		}
		text := strings.TrimSpace(s.Text())
		if len(text) < 40 {
			return
		}
		linkChars := 0
		s.Find("a").Each(func(_ int, a *goquery.Selection) {
			linkChars += len(strings.TrimSpace(a.Text()))
		})
		linkDensity := float64(linkChars) / float64(len(text))
		words := len(strings.Fields(text))
		score := float64(words) * (1 - linkDensity)
		if linkDensity < 0.33 && words >= 10 {
			blocks = append(blocks, block{text: text, score: score})
		}
	})

	var b strings.Builder
	for _, blk := range blocks {
		if blk.score >= 10 {
			b.WriteString(blk.text)
			b.WriteString("\n\n")
		}
	}
	return b.String(), nil
}
