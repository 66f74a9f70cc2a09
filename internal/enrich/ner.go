package enrich

import (
	"context"
	"sort"
	"strings"

	"flashpipe/internal/core"
	"flashpipe/internal/inference"
	"flashpipe/internal/logger"
)

// minNERChars skips texts too short to tag usefully.
const minNERChars = 50

// maxPerClass caps the surface forms kept per entity class.
const maxPerClass = 20

// entityClasses is the fixed output schema; every class is present in
// the result even when empty.
var entityClasses = []string{
	"PERSON", "ORG", "LOC", "GPE", "DATE", "EVENT",
	"NORP", "LAW", "MONEY", "QUANTITY",
}

// labelMap normalizes tagger labels onto the output schema.
var labelMap = map[string]string{
	"PER":  "PERSON",
	"MISC": "EVENT",
}

// ExtractEntities tags text and merges the spans into the entity map:
// per class, deduplicated case-insensitively keeping the highest score,
// ordered score descending. Tagger failures are non-fatal and produce
// an empty map.
func ExtractEntities(ctx context.Context, client *inference.Client, text, model string) core.EntityMap {
	empty := emptyEntityMap(model, len(text))

	if len(strings.TrimSpace(text)) < minNERChars {
		return empty
	}

	resp, err := client.ExtractEntities(ctx, text, model)
	if err != nil {
		logger.Warn("ner tagging failed", "error", err.Error())
		return empty
	}

	type scored struct {
		text  string
		score float64
	}
	byClass := make(map[string]map[string]scored)

	for _, span := range resp.Spans {
		label := span.Label
		if mapped, ok := labelMap[label]; ok {
			label = mapped
		}
		if !knownClass(label) {
			continue
		}
		surface := strings.TrimSpace(strings.ReplaceAll(span.Text, "##", ""))
		if len(surface) < 2 {
			continue
		}
		key := strings.ToLower(surface)
		if byClass[label] == nil {
			byClass[label] = make(map[string]scored)
		}
		if prev, ok := byClass[label][key]; !ok || span.Score > prev.score {
			byClass[label][key] = scored{text: surface, score: span.Score}
		}
	}

	result := core.EntityMap{ByClass: make(map[string][]core.Entity, len(entityClasses))}
	var allScores []float64
	for _, class := range entityClasses {
		entries := make([]core.Entity, 0, len(byClass[class]))
		for _, sc := range byClass[class] {
			entries = append(entries, core.Entity{Text: sc.text, Score: round4(sc.score)})
		}
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].Score != entries[j].Score {
				return entries[i].Score > entries[j].Score
			}
			return entries[i].Text < entries[j].Text
		})
		if len(entries) > maxPerClass {
			entries = entries[:maxPerClass]
		}
		for _, e := range entries {
			allScores = append(allScores, e.Score)
		}
		result.ByClass[class] = entries
	}

	avg := 0.0
	if len(allScores) > 0 {
		for _, s := range allScores {
			avg += s
		}
		avg /= float64(len(allScores))
	}
	result.Meta = core.EntityMeta{
		Chars: len(text),
		Model: resp.Model,
		Score: round4(avg),
	}
	return result
}

func emptyEntityMap(model string, chars int) core.EntityMap {
	byClass := make(map[string][]core.Entity, len(entityClasses))
	for _, class := range entityClasses {
		byClass[class] = []core.Entity{}
	}
	return core.EntityMap{
		ByClass: byClass,
		Meta:    core.EntityMeta{Chars: chars, Model: model},
	}
}

func knownClass(label string) bool {
	for _, class := range entityClasses {
		if class == label {
			return true
		}
	}
	return false
}

func round4(v float64) float64 {
	return float64(int64(v*10000+0.5)) / 10000
}
