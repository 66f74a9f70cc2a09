package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func makeArticles(n int) []Article {
	articles := make([]Article, n)
	for i := range articles {
		articles[i] = Article{
			EntryID:  uuid.New(),
			Title:    fmt.Sprintf("Story %d", i),
			Content:  fmt.Sprintf("Officials confirmed development number %d in the region today. Further talks are scheduled for next week with all parties attending.", i),
			URL:      fmt.Sprintf("https://site%d.example.com/story", i%3),
			Domain:   fmt.Sprintf("site%d.example.com", i%3),
			Language: []string{"en", "fr", "en"}[i%3],
		}
	}
	return articles
}

func TestLocalSummaryCapsWords(t *testing.T) {
	sentence := "The committee approved the draft resolution after extended debate in the chamber. "
	text := strings.Repeat(sentence, 40)
	got := LocalSummary(text, 80)

	words := len(strings.Fields(got))
	if words > 92 {
		t.Errorf("summary has %d words, want about 80", words)
	}
	if !strings.HasPrefix(got, "The committee approved") {
		t.Errorf("summary should keep lead sentences, got %q", got[:40])
	}
}

func TestLocalSummaryShortPassthrough(t *testing.T) {
	text := "Short body under the cap."
	if got := LocalSummary(text, 80); got != text {
		t.Errorf("short text modified: %q", got)
	}
}

func TestLocalSummaryDeterministic(t *testing.T) {
	text := strings.Repeat("Alpha beta gamma delta epsilon zeta. ", 60)
	if LocalSummary(text, 80) != LocalSummary(text, 80) {
		t.Error("LocalSummary is not deterministic")
	}
}

func TestPresummarizeParallelMatchesSerial(t *testing.T) {
	articles := makeArticles(9)
	long := strings.Repeat("Each of the delegates presented a position paper during the opening session of the conference. ", 30)
	for i := range articles {
		articles[i].Content = long
	}

	got := Presummarize(context.Background(), articles, 4, 80)
	want := LocalSummary(long, 80)
	for i, a := range got {
		if a.Content != want {
			t.Errorf("article %d pool summary differs from serial result", i)
		}
	}
	// Input untouched.
	if articles[0].Content != long {
		t.Error("Presummarize mutated its input")
	}
}

func TestAggregateMetadata(t *testing.T) {
	articles := makeArticles(6)
	articles[0].Images = []string{"https://img.example.com/a.jpg"}
	articles[1].Images = []string{"https://img.example.com/a.jpg", "https://img.example.com/b.jpg"}

	meta := AggregateMetadata(articles)

	// site0 appears for i=0,3; site1 for 1,4; site2 for 2,5 — equal
	// counts order alphabetically.
	if len(meta.TopDomains) != 3 {
		t.Fatalf("domains = %v", meta.TopDomains)
	}
	if meta.TopDomains[0] != "site0.example.com" {
		t.Errorf("equal-count domains must sort by name, got %v", meta.TopDomains)
	}
	if len(meta.Languages) != 2 || meta.Languages[0] != "en" || meta.Languages[1] != "fr" {
		t.Errorf("languages = %v, want [en fr]", meta.Languages)
	}
	if len(meta.URLs) != 6 {
		t.Errorf("urls = %d, want 6", len(meta.URLs))
	}
	if len(meta.Images) != 2 {
		t.Errorf("images = %v, want deduplicated pair", meta.Images)
	}
}

func TestExtractiveSummaryFromTitlesWhenEmpty(t *testing.T) {
	articles := []Article{
		{Title: "First headline"},
		{TitleEN: "Second headline"},
	}
	got := ExtractiveSummary(articles, 5)
	if !strings.Contains(got, "First headline") || !strings.Contains(got, "Second headline") {
		t.Errorf("title fallback missing: %q", got)
	}
}

func TestLongestLocalSummary(t *testing.T) {
	articles := []Article{
		{Content: "short"},
		{Content: "the longest summary of them all right here"},
		{Content: ""},
	}
	if got := LongestLocalSummary(articles); got != "the longest summary of them all right here" {
		t.Errorf("got %q", got)
	}
}

// ── Oracle orchestration ──

type fakeOracle struct {
	responses map[string]string // model → raw response
	failures  int               // fail this many calls first
	calls     int
	models    []string
}

func (f *fakeOracle) Generate(ctx context.Context, model, prompt string) (string, error) {
	f.calls++
	f.models = append(f.models, model)
	if f.failures > 0 {
		f.failures--
		return "", errors.New("oracle unavailable")
	}
	if raw, ok := f.responses[model]; ok {
		return raw, nil
	}
	return `{"summary": "default oracle summary"}`, nil
}

func clusterInput(n int) ClusterInput {
	return ClusterInput{
		FlashpointID: uuid.New(),
		ClusterUUID:  uuid.New(),
		ClusterID:    1,
		Articles:     makeArticles(n),
	}
}

func TestSummarizeClustersLocalOnly(t *testing.T) {
	s := New(nil, Options{})
	results, err := s.SummarizeClusters(context.Background(), []ClusterInput{clusterInput(4)})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d", len(results))
	}
	if results[0].Summary == "" {
		t.Error("local summary empty")
	}
	if results[0].Metadata.TopDomains == nil {
		t.Error("metadata missing")
	}
}

func TestSummarizeClustersOracle(t *testing.T) {
	oracle := &fakeOracle{responses: map[string]string{
		"standard": `{"summary": "oracle cluster summary"}`,
	}}
	s := New(oracle, Options{Model: "standard"})

	results, err := s.SummarizeClusters(context.Background(), []ClusterInput{clusterInput(3)})
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Summary != "oracle cluster summary" {
		t.Errorf("summary = %q", results[0].Summary)
	}
}

func TestOracleFailureFallsBackToLocal(t *testing.T) {
	oracle := &fakeOracle{failures: 1000}
	s := New(oracle, Options{Model: "standard"})

	input := clusterInput(3)
	results, err := s.SummarizeClusters(context.Background(), []ClusterInput{input})
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Summary == "" {
		t.Fatal("fallback summary empty")
	}
	// The fallback is the longest stage-1 summary, which for these
	// short bodies is the body itself.
	if !strings.Contains(results[0].Summary, "Officials confirmed development") {
		t.Errorf("fallback not drawn from member content: %q", results[0].Summary)
	}
	if oracle.calls != oracleMaxAttempts {
		t.Errorf("oracle called %d times, want %d attempts", oracle.calls, oracleMaxAttempts)
	}
}

func TestPremiumPassSelectsLargestCluster(t *testing.T) {
	oracle := &fakeOracle{responses: map[string]string{
		"standard": `{"summary": "standard summary"}`,
		"premium":  `{"summary": "premium summary"}`,
	}}
	s := New(oracle, Options{Model: "standard", PremiumModel: "premium", PremiumTopPct: 0.10})

	inputs := []ClusterInput{clusterInput(2), clusterInput(8), clusterInput(3)}
	for i := range inputs {
		inputs[i].ClusterID = i + 1
	}

	results, err := s.SummarizeClusters(context.Background(), inputs)
	if err != nil {
		t.Fatal(err)
	}

	premiumCount := 0
	for i, res := range results {
		if res.Premium {
			premiumCount++
			if len(inputs[i].Articles) != 8 {
				t.Errorf("premium pass hit cluster with %d members, want the largest (8)", len(inputs[i].Articles))
			}
			if res.Summary != "premium summary" {
				t.Errorf("premium summary = %q", res.Summary)
			}
		}
	}
	if premiumCount != 1 {
		t.Errorf("premium passes = %d, want 1 (top 10%% of 3, floored to 1)", premiumCount)
	}
}

func TestBuildPromptContainsArticles(t *testing.T) {
	prompt := buildPrompt([]Article{
		{Title: "Headline A", Content: "Body A", Language: "en"},
		{TitleEN: "Headline B", Content: "Body B"},
	})
	for _, want := range []string{"[[articles]]", `"Headline A"`, `"Headline B"`, `"unknown"`, "id = 2"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
