// Package summarize implements the two-stage cluster summarization:
// a local extractive pass per article in a CPU worker pool, then an
// external oracle synthesis per cluster (tier C only).
package summarize

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Article is the slice of an enriched feed entry the summarizer needs.
type Article struct {
	EntryID  uuid.UUID
	Title    string
	TitleEN  string
	Content  string
	URL      string
	Domain   string
	Hostname string
	Language string
	Images   []string
}

// DisplayTitle prefers the English title.
func (a Article) DisplayTitle() string {
	if a.TitleEN != "" {
		return a.TitleEN
	}
	if a.Title != "" {
		return a.Title
	}
	return "Untitled"
}

// ClusterInput is one cluster to summarize.
type ClusterInput struct {
	FlashpointID uuid.UUID
	ClusterUUID  uuid.UUID
	ClusterID    int
	Articles     []Article
}

// Metadata aggregates cluster member fields for the output row.
type Metadata struct {
	TopDomains []string
	Languages  []string
	URLs       []string
	Images     []string
}

const (
	maxURLsPerCluster   = 50
	maxImagesPerCluster = 20
	maxDomainsPerOutput = 10
)

// AggregateMetadata collects top domains by count, sorted languages,
// and capped url/image lists across the cluster members.
func AggregateMetadata(articles []Article) Metadata {
	domainCounts := make(map[string]int)
	langSet := make(map[string]bool)
	var urls, images []string
	imageSeen := make(map[string]bool)

	for _, a := range articles {
		domain := a.Domain
		if domain == "" {
			domain = a.Hostname
		}
		if domain != "" {
			domainCounts[domain]++
		}
		if a.Language != "" {
			langSet[a.Language] = true
		}
		if a.URL != "" && len(urls) < maxURLsPerCluster {
			urls = append(urls, a.URL)
		}
		for _, img := range a.Images {
			if img != "" && !imageSeen[img] && len(images) < maxImagesPerCluster {
				imageSeen[img] = true
				images = append(images, img)
			}
		}
	}

	domains := make([]string, 0, len(domainCounts))
	for d := range domainCounts {
		domains = append(domains, d)
	}
	sort.Slice(domains, func(i, j int) bool {
		if domainCounts[domains[i]] != domainCounts[domains[j]] {
			return domainCounts[domains[i]] > domainCounts[domains[j]]
		}
		return domains[i] < domains[j]
	})
	if len(domains) > maxDomainsPerOutput {
		domains = domains[:maxDomainsPerOutput]
	}

	languages := make([]string, 0, len(langSet))
	for l := range langSet {
		languages = append(languages, l)
	}
	sort.Strings(languages)

	return Metadata{
		TopDomains: domains,
		Languages:  languages,
		URLs:       urls,
		Images:     images,
	}
}

var sentenceSplitRe = regexp.MustCompile(`(?:[.!?])\s+`)

// splitSentences is a cheap sentence segmentation: split after
// terminal punctuation, keeping the punctuation with the sentence.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	locs := sentenceSplitRe.FindAllStringIndex(text, -1)
	var out []string
	prev := 0
	for _, loc := range locs {
		sent := strings.TrimSpace(text[prev : loc[0]+1])
		if sent != "" {
			out = append(out, sent)
		}
		prev = loc[1]
	}
	if rest := strings.TrimSpace(text[prev:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

// LocalSummary compresses one article body to roughly maxWords of lead
// sentences. Deterministic given the same input. Short bodies pass
// through unchanged.
func LocalSummary(text string, maxWords int) string {
	if maxWords <= 0 {
		maxWords = 80
	}
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return strings.TrimSpace(text)
	}

	var b strings.Builder
	count := 0
	for _, sent := range splitSentences(text) {
		n := len(strings.Fields(sent))
		if count > 0 && count+n > maxWords {
			break
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(sent)
		count += n
		if count >= maxWords {
			break
		}
	}
	if b.Len() == 0 {
		return strings.Join(words[:maxWords], " ")
	}
	return b.String()
}

// Presummarize runs LocalSummary over the articles in a bounded worker
// pool and returns copies with Content replaced by its stage-1 summary.
// The pool parallelizes CPU work without touching the caller's
// I/O concurrency.
func Presummarize(ctx context.Context, articles []Article, workers, maxWords int) []Article {
	if workers <= 0 {
		workers = 8
	}

	out := make([]Article, len(articles))
	copy(out, articles)

	jobs := make(chan int, len(articles))
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				if ctx.Err() != nil {
					continue
				}
				out[idx].Content = LocalSummary(out[idx].Content, maxWords)
			}
		}()
	}
	for i := range articles {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return out
}

// ExtractiveSummary builds the tier A/B cluster summary: the first two
// sentences of each leading article until maxSentences distinct
// sentences accumulate, falling back to titles for empty bodies.
func ExtractiveSummary(articles []Article, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = 5
	}

	var sentences []string
	seen := make(map[string]bool)

	limit := len(articles)
	if limit > 10 {
		limit = 10
	}
	for _, a := range articles[:limit] {
		for i, sent := range splitSentences(a.Content) {
			if i >= 2 {
				break
			}
			if len(sent) > 30 && !seen[sent] {
				seen[sent] = true
				sentences = append(sentences, sent)
			}
		}
		if len(sentences) >= maxSentences {
			break
		}
	}

	if len(sentences) == 0 {
		titleLimit := len(articles)
		if titleLimit > 5 {
			titleLimit = 5
		}
		for _, a := range articles[:titleLimit] {
			if t := a.DisplayTitle(); t != "Untitled" {
				sentences = append(sentences, t)
			}
		}
	}

	if len(sentences) > maxSentences {
		sentences = sentences[:maxSentences]
	}
	return strings.Join(sentences, " ")
}

// LongestLocalSummary is the oracle-failure fallback: the longest
// non-empty stage-1 summary among the members.
func LongestLocalSummary(presummarized []Article) string {
	best := ""
	for _, a := range presummarized {
		if len(a.Content) > len(best) {
			best = a.Content
		}
	}
	return strings.TrimSpace(best)
}
