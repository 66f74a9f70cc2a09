package extract

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"flashpipe/internal/core"
)

func articleHTML(paragraphs int) string {
	var b strings.Builder
	b.WriteString("<html><head><title>Test</title></head><body><nav>Home | About</nav><article>")
	for i := 0; i < paragraphs; i++ {
		fmt.Fprintf(&b, "<p>Paragraph %d reports that the delegation met with officials in the capital to discuss the worsening situation along the border and the humanitarian response.</p>", i)
	}
	b.WriteString("</article><footer>Copyright</footer></body></html>")
	return b.String()
}

func TestExtractHappyPath(t *testing.T) {
	res, err := Extract(articleHTML(6), "https://example.com/story", 250)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if res.Method != MethodDensity {
		t.Errorf("method = %q, want %q (first cascade method)", res.Method, MethodDensity)
	}
	if !strings.Contains(res.Text, "delegation met with officials") {
		t.Error("extracted text missing article content")
	}
	if strings.Contains(res.Text, "Copyright") || strings.Contains(res.Text, "Home | About") {
		t.Error("boilerplate leaked into extracted text")
	}
	if res.Chars != len(res.Text) {
		t.Errorf("Chars = %d, want %d", res.Chars, len(res.Text))
	}
}

func TestExtractDeterministic(t *testing.T) {
	html := articleHTML(5)
	first, err := Extract(html, "https://example.com/a", 250)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Extract(html, "https://example.com/a", 250)
	if err != nil {
		t.Fatal(err)
	}
	if first.Text != second.Text || first.Method != second.Method {
		t.Error("extraction is not deterministic for identical input")
	}
}

func TestExtractTooShort(t *testing.T) {
	html := "<html><body><article><p>Short piece of text here.</p></article></body></html>"
	_, err := Extract(html, "https://example.com", 250)
	var extErr *Error
	if !errors.As(err, &extErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if extErr.Reason != core.ReasonTooShort {
		t.Errorf("reason = %q, want %q", extErr.Reason, core.ReasonTooShort)
	}
}

func TestExtractClassifiesPaywall(t *testing.T) {
	html := `<html><body><div>Subscribe to continue reading this premium content.</div></body></html>`
	_, err := Extract(html, "https://example.com", 250)
	var extErr *Error
	if !errors.As(err, &extErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if extErr.Reason != core.ReasonPaywall {
		t.Errorf("reason = %q, want %q", extErr.Reason, core.ReasonPaywall)
	}
}

func TestExtractClassifiesConsentWall(t *testing.T) {
	html := `<html><body><div class="cookie-banner">We use cookies. Accept all cookies to proceed.</div></body></html>`
	_, err := Extract(html, "https://example.com", 250)
	var extErr *Error
	if !errors.As(err, &extErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if extErr.Reason != core.ReasonConsentWall {
		t.Errorf("reason = %q, want %q", extErr.Reason, core.ReasonConsentWall)
	}
}

func TestExtractClassifiesJSShell(t *testing.T) {
	html := `<html><head><script src="app.js"></script></head><body><div id="app"></div><script>window.__NUXT__={}</script></body></html>`
	_, err := Extract(html, "https://example.com", 250)
	var extErr *Error
	if !errors.As(err, &extErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if extErr.Reason != core.ReasonJSRequired {
		t.Errorf("reason = %q, want %q", extErr.Reason, core.ReasonJSRequired)
	}
}

func TestExtractEmptyInput(t *testing.T) {
	_, err := Extract("   ", "https://example.com", 250)
	var extErr *Error
	if !errors.As(err, &extErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if extErr.Reason != core.ReasonNoText {
		t.Errorf("reason = %q, want %q", extErr.Reason, core.ReasonNoText)
	}
}

func TestBrowserWorthReason(t *testing.T) {
	cases := map[core.FailureReason]bool{
		core.ReasonJSRequired:  true,
		core.ReasonConsentWall: true,
		core.ReasonPaywall:     false,
		core.ReasonNoText:      false,
	}
	for reason, want := range cases {
		if got := BrowserWorthReason(reason); got != want {
			t.Errorf("BrowserWorthReason(%s) = %v, want %v", reason, got, want)
		}
	}
}

func TestSanitizeText(t *testing.T) {
	in := "line one\x00\x08   with   runs\n\n\n\n\nline two\t\tend"
	got := sanitizeText(in)
	if strings.ContainsAny(got, "\x00\x08") {
		t.Error("control characters survived sanitization")
	}
	if strings.Contains(got, "   ") {
		t.Error("space runs survived sanitization")
	}
	if strings.Contains(got, "\n\n\n") {
		t.Error("newline runs longer than two survived sanitization")
	}
}

func TestImages(t *testing.T) {
	html := `<html><head>
		<meta property="og:image" content="https://cdn.example.com/lead.jpg">
		<meta name="twitter:image" content="//cdn.example.com/card.jpg">
	</head><body>
		<img src="/photos/scene.jpg">
		<img src="https://ads.example.com/1x1-pixel.gif">
		<img src="https://cdn.example.com/lead.jpg">
	</body></html>`

	got := Images(html, "https://www.example.com/story")
	want := []string{
		"https://cdn.example.com/lead.jpg",
		"https://cdn.example.com/card.jpg",
		"https://www.example.com/photos/scene.jpg",
	}
	if len(got) != len(want) {
		t.Fatalf("Images = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Images[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
