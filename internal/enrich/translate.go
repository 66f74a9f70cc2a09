package enrich

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"flashpipe/internal/inference"
	"flashpipe/internal/logger"
)

// TranslateTitle translates an article title to English. Bodies are
// never translated — titles only. Missing translation models are a
// non-fatal degradation: the original title is returned.
func TranslateTitle(ctx context.Context, client *inference.Client, title, sourceLang string) string {
	if strings.TrimSpace(title) == "" {
		return title
	}
	lang := strings.ToLower(sourceLang)
	if lang == "en" || lang == "eng" {
		return title
	}

	translated, err := client.Translate(ctx, title, lang, "en")
	if err != nil {
		if !errors.Is(err, inference.ErrModelUnavailable) {
			logger.Warn("title translation failed", "lang", lang, "error", err.Error())
		}
		return title
	}
	if strings.TrimSpace(translated) == "" {
		return title
	}
	return translated
}

// Hostname extracts the hostname from a URL, stripping a leading
// "www." and any port. Empty string on unparseable input.
func Hostname(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := parsed.Hostname()
	host = strings.TrimPrefix(host, "www.")
	return host
}
