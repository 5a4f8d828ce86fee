package pipeline

import (
	"sort"

	"github.com/agnivade/levenshtein"
	"github.com/rs/zerolog"

	"nfeimport/internal"
	"nfeimport/internal/catalog"
	"nfeimport/internal/synonyms"
	"nfeimport/internal/util"
)

const (
	// DefaultAutoThreshold is the minimum fuzzy score accepted without review.
	DefaultAutoThreshold = 0.92

	maxSuggestions = 5

	confidenceSynonymSKU         = 0.99
	confidenceSKU                = 1.0
	confidenceSynonymBarcode     = 0.98
	confidenceBarcode            = 0.97
	confidenceSynonymDescription = 0.95
	barcodeSuggestionFloor       = 0.95
)

// Matcher resolves invoice items to catalogue products through a fixed
// cascade: learned synonyms and exact identifiers first, fuzzy text last.
type Matcher struct {
	index     *catalog.Index
	synonyms  *synonyms.Cache
	threshold float64
	logger    zerolog.Logger
}

func NewMatcher(idx *catalog.Index, cache *synonyms.Cache, threshold float64, logger zerolog.Logger) *Matcher {
	if threshold <= 0 {
		threshold = DefaultAutoThreshold
	}
	return &Matcher{index: idx, synonyms: cache, threshold: threshold, logger: logger}
}

// RefreshProducts swaps the catalogue index, keeping learned synonyms.
func (m *Matcher) RefreshProducts(idx *catalog.Index) {
	m.index = idx
}

// MatchItems runs the cascade over every item, splitting matched from
// unmatched. Order of the input is preserved in both slices.
func (m *Matcher) MatchItems(items []internal.NFEItem) ([]internal.MatchDecision, []internal.UnmatchedItem) {
	matched := make([]internal.MatchDecision, 0, len(items))
	unmatched := make([]internal.UnmatchedItem, 0)
	for _, item := range items {
		decision, miss := m.MatchItem(item)
		if miss != nil {
			unmatched = append(unmatched, *miss)
			continue
		}
		matched = append(matched, decision)
	}
	return matched, unmatched
}

// MatchItem returns either a decision or an unmatched record, never both.
func (m *Matcher) MatchItem(item internal.NFEItem) (internal.MatchDecision, *internal.UnmatchedItem) {
	if sku := m.synonyms.LookupByCode(item.Code); sku != "" {
		if p, ok := m.index.BySKU[sku]; ok {
			return m.decision(item, p, confidenceSynonymSKU, internal.SourceSynonymSKU), nil
		}
	}

	if p, ok := m.index.BySKU[util.NormalizeSKU(item.Code)]; ok {
		m.synonyms.Register(p.SKU, item.Code, item.Barcode, item.Description)
		return m.decision(item, p, confidenceSKU, internal.SourceSKU), nil
	}

	if sku := m.synonyms.LookupByBarcode(item.Barcode); sku != "" {
		if p, ok := m.index.BySKU[sku]; ok {
			return m.decision(item, p, confidenceSynonymBarcode, internal.SourceSynonymBarcode), nil
		}
	}

	if barcode := util.NormalizeBarcode(item.Barcode); barcode != "" {
		if products := m.index.ByBarcode[barcode]; len(products) > 0 {
			p := products[0]
			m.synonyms.Register(p.SKU, item.Code, item.Barcode, item.Description)
			return m.decision(item, p, confidenceBarcode, internal.SourceBarcode), nil
		}
	}

	if sku := m.synonyms.LookupByDescription(item.Description); sku != "" {
		if p, ok := m.index.BySKU[sku]; ok {
			return m.decision(item, p, confidenceSynonymDescription, internal.SourceSynonymDescription), nil
		}
	}

	if sku, score := m.bestFuzzy(item.Description); sku != "" && score >= m.threshold {
		p := m.index.BySKU[sku]
		m.synonyms.Register(p.SKU, "", "", item.Description)
		return m.decision(item, p, score, internal.SourceFuzzy), nil
	}

	m.logger.Debug().
		Str("code", item.Code).
		Str("description", item.Description).
		Msg("no catalogue match for item")
	return internal.MatchDecision{}, &internal.UnmatchedItem{
		Item:        item,
		Suggestions: m.Suggest(item, maxSuggestions),
		Reason:      "No match found",
	}
}

func (m *Matcher) decision(item internal.NFEItem, p internal.CatalogProduct, confidence float64, source internal.MatchSource) internal.MatchDecision {
	return internal.MatchDecision{Item: item, Product: p, Confidence: confidence, Source: source}
}

// bestFuzzy returns the highest scoring SKU for the description. Every
// catalogue product is scored; ties resolve to the lower SKU.
func (m *Matcher) bestFuzzy(description string) (string, float64) {
	query := util.NormalizeText(description)
	if query == "" {
		return "", 0
	}

	bestSKU, bestScore := "", 0.0
	for sku, comparison := range m.index.ComparisonBySKU {
		score := similarity(query, comparison)
		if score > bestScore || (score == bestScore && sku < bestSKU) {
			bestSKU, bestScore = sku, score
		}
	}
	return bestSKU, bestScore
}

// Suggest ranks near misses for manual review. Every catalogue product is
// scored; candidates sharing the item barcode are floored at the barcode
// confidence so they surface even when their descriptions diverge.
func (m *Matcher) Suggest(item internal.NFEItem, limit int) []internal.Suggestion {
	if limit <= 0 {
		limit = maxSuggestions
	}
	query := util.NormalizeText(item.Description)
	itemBarcode := util.NormalizeBarcode(item.Barcode)

	scored := make([]internal.Suggestion, 0)
	for sku, p := range m.index.BySKU {
		score := similarity(query, m.index.ComparisonBySKU[sku])
		if itemBarcode != "" && util.NormalizeBarcode(p.Barcode) == itemBarcode && score < barcodeSuggestionFloor {
			score = barcodeSuggestionFloor
		}
		if score <= 0 {
			continue
		}
		scored = append(scored, internal.Suggestion{Product: p, Confidence: score})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Confidence != scored[j].Confidence {
			return scored[i].Confidence > scored[j].Confidence
		}
		return scored[i].Product.SKU < scored[j].Product.SKU
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// similarity is the normalized Levenshtein ratio between two comparison keys.
func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	longest := len([]rune(a))
	if lb := len([]rune(b)); lb > longest {
		longest = lb
	}
	distance := levenshtein.ComputeDistance(a, b)
	return 1 - float64(distance)/float64(longest)
}
