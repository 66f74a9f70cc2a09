package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const maxBodyImages = 5

var pixelMarkers = []string{"1x1", "pixel", "tracker", "beacon", "spacer"}

// Images collects likely article images from HTML: the Open Graph and
// Twitter card images first, then up to a few unique body images.
// Relative URLs are resolved against baseURL; tracking pixels dropped.
func Images(html string, baseURL string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	base, _ := url.Parse(baseURL)

	var images []string
	seen := make(map[string]bool)

	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return
		}
		lower := strings.ToLower(raw)
		for _, marker := range pixelMarkers {
			if strings.Contains(lower, marker) {
				return
			}
		}
		if strings.HasPrefix(raw, "//") {
			raw = "https:" + raw
		} else if strings.HasPrefix(raw, "/") && base != nil {
			ref, err := url.Parse(raw)
			if err != nil {
				return
			}
			raw = base.ResolveReference(ref).String()
		}
		if !strings.HasPrefix(raw, "http") || seen[raw] {
			return
		}
		seen[raw] = true
		images = append(images, raw)
	}

	if og, ok := doc.Find("meta[property='og:image']").Attr("content"); ok {
		add(og)
	}
	if tw, ok := doc.Find("meta[name='twitter:image']").Attr("content"); ok {
		add(tw)
	}

	bodyCount := 0
	doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if bodyCount >= maxBodyImages {
			return false
		}
		if src, ok := s.Attr("src"); ok {
			before := len(images)
			add(src)
			if len(images) > before {
				bodyCount++
			}
		}
		return true
	})

	return images
}
