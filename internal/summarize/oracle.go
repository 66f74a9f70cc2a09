package summarize

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"flashpipe/internal/logger"
)

const oracleSystemPrompt = `You are a news intelligence analyst. Summarize the following cluster of news articles about the same event into a single, comprehensive, factual summary in English.

Requirements:
- Include all key facts: who, what, where, when, why
- If articles are in different languages, synthesize the information
- Be objective and factual

Output (STRICT) - Return JSON ONLY:
{"summary": "<your summary here>"}
Return JSON only, no extra text.`

const (
	oracleMaxAttempts    = 4 // the first call plus three retries
	oracleRetryBase      = time.Second
	maxArticlesPerPrompt = 15
)

// TextOracle is the external text-to-text service used for stage-2
// cluster synthesis.
type TextOracle interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// GenaiOracle implements TextOracle on the Gemini API.
type GenaiOracle struct {
	client *genai.Client
}

// NewGenaiOracle creates the oracle client.
func NewGenaiOracle(ctx context.Context, apiKey string) (*GenaiOracle, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("oracle API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create oracle client: %w", err)
	}
	return &GenaiOracle{client: client}, nil
}

// Generate runs one chat completion and returns the raw text.
func (o *GenaiOracle) Generate(ctx context.Context, model, prompt string) (string, error) {
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}
	resp, err := o.client.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return text, nil
}

// Options configures a Summarizer.
type Options struct {
	LocalWorkers  int
	LocalMaxWords int
	Model         string
	PremiumModel  string
	PremiumTopPct float64
	BatchSize     int
}

// Result is one summarized cluster.
type Result struct {
	Input    ClusterInput
	Summary  string
	Metadata Metadata
	// Premium records whether the premium pass produced the summary.
	Premium bool
}

// Summarizer drives the two-stage process. Oracle may be nil, in which
// case every cluster gets the local extractive summary (tier A/B).
type Summarizer struct {
	oracle TextOracle
	opts   Options
}

// New creates a Summarizer.
func New(oracle TextOracle, opts Options) *Summarizer {
	if opts.LocalWorkers <= 0 {
		opts.LocalWorkers = 8
	}
	if opts.LocalMaxWords <= 0 {
		opts.LocalMaxWords = 80
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.PremiumTopPct <= 0 {
		opts.PremiumTopPct = 0.10
	}
	return &Summarizer{oracle: oracle, opts: opts}
}

// SummarizeClusters produces one Result per input, in input order.
// Per-cluster oracle failures degrade to the stage-1 fallback and never
// fail the batch.
func (s *Summarizer) SummarizeClusters(ctx context.Context, inputs []ClusterInput) ([]Result, error) {
	results := make([]Result, len(inputs))

	premium := s.premiumSet(inputs)

	for start := 0; start < len(inputs); start += s.opts.BatchSize {
		end := start + s.opts.BatchSize
		if end > len(inputs) {
			end = len(inputs)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				results[i] = s.summarizeOne(gctx, inputs[i], premium[i])
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// premiumSet marks the top PremiumTopPct of clusters by
// pre-summarization member count for the premium oracle pass.
func (s *Summarizer) premiumSet(inputs []ClusterInput) map[int]bool {
	premium := make(map[int]bool)
	if s.oracle == nil || s.opts.PremiumModel == "" || len(inputs) == 0 {
		return premium
	}
	order := make([]int, len(inputs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		la, lb := len(inputs[order[a]].Articles), len(inputs[order[b]].Articles)
		if la != lb {
			return la > lb
		}
		return order[a] < order[b]
	})
	topN := int(float64(len(inputs)) * s.opts.PremiumTopPct)
	if topN < 1 {
		topN = 1
	}
	for _, idx := range order[:topN] {
		premium[idx] = true
	}
	return premium
}

func (s *Summarizer) summarizeOne(ctx context.Context, input ClusterInput, usePremium bool) Result {
	metadata := AggregateMetadata(input.Articles)

	capped := input.Articles
	if len(capped) > maxArticlesPerPrompt {
		capped = capped[:maxArticlesPerPrompt]
	}
	presums := Presummarize(ctx, capped, s.opts.LocalWorkers, s.opts.LocalMaxWords)

	if s.oracle == nil {
		return Result{
			Input:    input,
			Summary:  ExtractiveSummary(presums, 5),
			Metadata: metadata,
		}
	}

	prompt := buildPrompt(presums)

	summary, err := s.callOracle(ctx, s.opts.Model, prompt)
	if err == nil && usePremium {
		if upgraded, perr := s.callOracle(ctx, s.opts.PremiumModel, prompt); perr == nil {
			return Result{Input: input, Summary: upgraded, Metadata: metadata, Premium: true}
		}
		logger.Warn("premium pass failed, keeping standard summary",
			"flashpoint_id", input.FlashpointID.String(), "cluster_id", input.ClusterID)
	}
	if err != nil {
		logger.Warn("oracle summarization failed, using local fallback",
			"flashpoint_id", input.FlashpointID.String(),
			"cluster_id", input.ClusterID,
			"error", err.Error())
		summary = LongestLocalSummary(presums)
		if summary == "" {
			summary = ExtractiveSummary(presums, 5)
		}
	}

	return Result{Input: input, Summary: summary, Metadata: metadata}
}

// callOracle runs the oracle with retries; the parsed summary is the
// success condition, so unparseable output is retried as well.
func (s *Summarizer) callOracle(ctx context.Context, model, prompt string) (string, error) {
	var summary string

	operation := func() error {
		raw, err := s.oracle.Generate(ctx, model, prompt)
		if err != nil {
			return err
		}
		parsed, ok := ParseSummary(raw)
		if !ok {
			return fmt.Errorf("unparseable oracle response")
		}
		summary = parsed
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = oracleRetryBase
	bo.MaxElapsedTime = 0

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, oracleMaxAttempts-1), ctx))
	if err != nil {
		return "", err
	}
	return summary, nil
}

// buildPrompt serializes the pre-summarized articles into a compact
// block format: key = value lines per article, token-lean compared to
// nested JSON.
func buildPrompt(articles []Article) string {
	var b strings.Builder
	b.WriteString(oracleSystemPrompt)
	b.WriteString("\n\n")
	for i, a := range articles {
		fmt.Fprintf(&b, "[[articles]]\n")
		fmt.Fprintf(&b, "id = %d\n", i+1)
		lang := a.Language
		if lang == "" {
			lang = "unknown"
		}
		fmt.Fprintf(&b, "lang = %q\n", lang)
		fmt.Fprintf(&b, "title = %q\n", a.DisplayTitle())
		fmt.Fprintf(&b, "content = %q\n\n", a.Content)
	}
	return b.String()
}
