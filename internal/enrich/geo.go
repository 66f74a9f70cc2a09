package enrich

import (
	"sort"
	"strings"

	"github.com/biter777/countries"

	"flashpipe/internal/core"
)

// aliasOverrides resolves common name variants the lookup table misses.
type aliasTarget struct {
	name   string
	alpha2 string
	alpha3 string
}

var aliasOverrides = map[string]aliasTarget{
	"usa":                      {"United States", "US", "USA"},
	"u.s.":                     {"United States", "US", "USA"},
	"u.s.a.":                   {"United States", "US", "USA"},
	"united states of america": {"United States", "US", "USA"},
	"america":                  {"United States", "US", "USA"},
	"uk":                       {"United Kingdom", "GB", "GBR"},
	"u.k.":                     {"United Kingdom", "GB", "GBR"},
	"britain":                  {"United Kingdom", "GB", "GBR"},
	"great britain":            {"United Kingdom", "GB", "GBR"},
	"england":                  {"United Kingdom", "GB", "GBR"},
	"russia":                   {"Russia", "RU", "RUS"},
	"south korea":              {"South Korea", "KR", "KOR"},
	"north korea":              {"North Korea", "KP", "PRK"},
	"iran":                     {"Iran", "IR", "IRN"},
	"syria":                    {"Syria", "SY", "SYR"},
	"palestine":                {"Palestine", "PS", "PSE"},
	"taiwan":                   {"Taiwan", "TW", "TWN"},
	"czech republic":           {"Czechia", "CZ", "CZE"},
	"ivory coast":              {"Côte d'Ivoire", "CI", "CIV"},
	"congo":                    {"Congo", "CG", "COG"},
	"dr congo":                 {"DR Congo", "CD", "COD"},
	"drc":                      {"DR Congo", "CD", "COD"},
	"uae":                      {"United Arab Emirates", "AE", "ARE"},
}

// resolveCountry maps a location surface form to a country, or false
// for non-country toponyms.
func resolveCountry(name string) (aliasTarget, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return aliasTarget{}, false
	}
	if hit, ok := aliasOverrides[key]; ok {
		return hit, true
	}
	code := countries.ByName(name)
	if code == countries.Unknown {
		return aliasTarget{}, false
	}
	return aliasTarget{
		name:   code.String(),
		alpha2: code.Alpha2(),
		alpha3: code.Alpha3(),
	}, true
}

// ResolveGeo consumes the LOC and GPE entity classes and aggregates
// them into country records with mention counts, ordered by count
// descending then name ascending. Non-country toponyms are dropped.
// sourceCountry, when resolvable and absent from the mentions, is
// appended with a single low-confidence mention.
func ResolveGeo(entities core.EntityMap, sourceCountry string) []core.GeoEntity {
	type agg struct {
		target aliasTarget
		count  int
		scores []float64
	}
	byAlpha3 := make(map[string]*agg)

	for _, class := range []string{"LOC", "GPE"} {
		for _, ent := range entities.ByClass[class] {
			target, ok := resolveCountry(ent.Text)
			if !ok {
				continue
			}
			a, ok := byAlpha3[target.alpha3]
			if !ok {
				a = &agg{target: target}
				byAlpha3[target.alpha3] = a
			}
			a.count++
			a.scores = append(a.scores, ent.Score)
		}
	}

	if sourceCountry != "" {
		if target, ok := resolveCountry(sourceCountry); ok {
			if _, exists := byAlpha3[target.alpha3]; !exists {
				byAlpha3[target.alpha3] = &agg{
					target: target,
					count:  1,
					scores: []float64{0.5},
				}
			}
		}
	}

	result := make([]core.GeoEntity, 0, len(byAlpha3))
	for _, a := range byAlpha3 {
		avg := 0.0
		for _, s := range a.scores {
			avg += s
		}
		if len(a.scores) > 0 {
			avg /= float64(len(a.scores))
		}
		result = append(result, core.GeoEntity{
			Name:     a.target.name,
			Alpha2:   a.target.alpha2,
			Alpha3:   a.target.alpha3,
			Mentions: a.count,
			AvgScore: round4(avg),
		})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Mentions != result[j].Mentions {
			return result[i].Mentions > result[j].Mentions
		}
		return result[i].Name < result[j].Name
	})

	return result
}
