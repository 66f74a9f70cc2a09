// Package enrich holds the per-entry enrichers: language detection,
// title translation, hostname derivation, NER, and geo resolution.
package enrich

import (
	"regexp"
	"strings"
	"sync"

	"github.com/pemistahl/lingua-go"
)

// minDetectChars is the minimum text length for language detection;
// shorter texts come back as undetermined.
const minDetectChars = 50

// LangUndetermined is returned when no confident detection is possible.
const LangUndetermined = "und"

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector

	isoCodeRe = regexp.MustCompile(`^[a-z]{2,3}$`)
)

// The detector model is expensive to build; share one instance.
func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromAllLanguages().
			Build()
	})
	return detector
}

// DetectLanguage returns the ISO-639-1 code and confidence for text.
// A declared language that already looks like an ISO code is trusted
// as-is. Detection failures are non-fatal and yield "und".
func DetectLanguage(text, declared string) (string, float64) {
	if declared != "" && isoCodeRe.MatchString(strings.ToLower(declared)) {
		return strings.ToLower(declared), 1.0
	}

	trimmed := strings.TrimSpace(text)
	if len(trimmed) < minDetectChars {
		return LangUndetermined, 0
	}

	// The first few hundred characters are plenty for identification.
	sample := trimmed
	if len(sample) > 500 {
		sample = sample[:500]
	}
	sample = strings.ReplaceAll(sample, "\n", " ")

	lang, ok := getDetector().DetectLanguageOf(sample)
	if !ok {
		return LangUndetermined, 0
	}
	confidence := getDetector().ComputeLanguageConfidence(sample, lang)
	return strings.ToLower(lang.IsoCode639_1().String()), confidence
}
