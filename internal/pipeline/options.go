package pipeline

import (
	"regexp"
	"strconv"
	"strings"

	"nfeimport/internal"
)

var sizeTokens = map[string]struct{}{
	"PP": {}, "P": {}, "M": {}, "G": {}, "GG": {}, "XG": {}, "XGG": {}, "U": {},
}

var colorNames = map[string]struct{}{
	"azul": {}, "vermelho": {}, "vermelha": {}, "verde": {}, "amarelo": {},
	"amarela": {}, "preto": {}, "preta": {}, "branco": {}, "branca": {},
	"rosa": {}, "cinza": {}, "bege": {}, "dourado": {}, "dourada": {},
	"prata": {}, "marrom": {}, "roxo": {}, "roxa": {}, "laranja": {},
}

var (
	reCapacityToken  = regexp.MustCompile(`(?i)^(\d+(?:[.,]\d+)?)(ml|l|kg|g)$`)
	reDimensionToken = regexp.MustCompile(`(?i)^\d+(?:[.,]\d+)?x\d+(?:[.,]\d+)?(?:x\d+(?:[.,]\d+)?)?$`)
	reIndexToken     = regexp.MustCompile(`^\d{1,3}$`)
	reModelToken     = regexp.MustCompile(`^[A-Z]$`)
	reNumericSize    = regexp.MustCompile(`^\d{2}$`)
)

type tokenCategory int

const (
	categoryNone tokenCategory = iota
	categorySize
	categoryDimension
	categoryCapacity
	categoryIndex
	categoryModel
)

// applyVariantOptions fills the Option columns. Explicitly configured axes
// read their values straight from catalogue columns; without configuration an
// axis is inferred per handle group from SKU suffix tokens, and only when
// every member agrees on the token category.
func (g *Generator) applyVariantOptions(rows []Row, products []internal.CatalogProduct) {
	if axes := g.configuredAxes(); len(axes) > 0 {
		g.applyExplicitAxes(rows, products, axes)
		return
	}
	if g.settings.Variants.InferFromSKU != nil && !*g.settings.Variants.InferFromSKU {
		g.applyDefaultTitles(rows, groupByHandle(rows))
		return
	}
	g.inferGroupAxes(rows, products)
}

func (g *Generator) configuredAxes() []struct{ name, column string } {
	axes := make([]struct{ name, column string }, 0, 3)
	for _, axis := range g.settings.Variants.Options {
		if axis == nil || strings.TrimSpace(axis.Column) == "" {
			continue
		}
		axes = append(axes, struct{ name, column string }{axis.Name, axis.Column})
	}
	if len(axes) > 3 {
		axes = axes[:3]
	}
	return axes
}

func (g *Generator) applyExplicitAxes(rows []Row, products []internal.CatalogProduct, axes []struct{ name, column string }) {
	for i, row := range rows {
		p := products[i]
		slot := 1
		for _, axis := range axes {
			value := p.ExtraString(axis.column)
			if value == "" {
				continue
			}
			name := axis.name
			if name == "" {
				name = inferAxisName(value)
			}
			// A value whose shape yields no axis name cannot become a
			// nameless option; the axis is skipped entirely.
			if name == "" {
				continue
			}
			row["Option"+strconv.Itoa(slot)+" Name"] = name
			row["Option"+strconv.Itoa(slot)+" Value"] = value
			slot++
		}
	}
}

// inferGroupAxes handles catalogues without explicit option columns. Simple
// products get no options; numeric-index groups fall back to the Default
// Title variant; groups whose suffix tokens disagree get no options at all.
func (g *Generator) inferGroupAxes(rows []Row, products []internal.CatalogProduct) {
	groups := groupByHandle(rows)

	for _, indexes := range groups {
		if len(indexes) == 1 {
			continue
		}

		category := categoryNone
		values := make([]string, 0, len(indexes))
		consistent := true
		for _, idx := range indexes {
			token := suffixToken(products[idx].SKU)
			cat, value := classifyToken(token)
			if cat == categoryNone || (category != categoryNone && cat != category) {
				consistent = false
				break
			}
			category = cat
			values = append(values, value)
		}

		if !consistent {
			continue
		}
		if category == categoryIndex || allEqual(values) {
			for _, idx := range indexes {
				setDefaultTitle(rows[idx])
			}
			continue
		}
		name := axisNameFor(category)
		for pos, idx := range indexes {
			rows[idx]["Option1 Name"] = name
			rows[idx]["Option1 Value"] = values[pos]
		}
	}
}

func (g *Generator) applyDefaultTitles(rows []Row, groups map[string][]int) {
	for _, indexes := range groups {
		for _, idx := range indexes {
			setDefaultTitle(rows[idx])
		}
	}
}

// dedupeOptionCombinations disambiguates rows of one handle carrying the same
// full option combination by suffixing Option1 Value with -2, -3, ...
func dedupeOptionCombinations(rows []Row) {
	seen := map[string]int{}
	for _, row := range rows {
		key := row["Handle"] + "\x00" + row["Option1 Value"] + "\x00" + row["Option2 Value"] + "\x00" + row["Option3 Value"]
		seen[key]++
		if n := seen[key]; n > 1 && row["Option1 Value"] != "" {
			row["Option1 Value"] = row["Option1 Value"] + "-" + strconv.Itoa(n)
		}
	}
}

func groupByHandle(rows []Row) map[string][]int {
	groups := map[string][]int{}
	for i, row := range rows {
		handle := row["Handle"]
		groups[handle] = append(groups[handle], i)
	}
	return groups
}

func setDefaultTitle(row Row) {
	row["Option1 Name"] = "Title"
	row["Option1 Value"] = "Default Title"
}

// suffixToken extracts the trailing token of a SKU, uppercased.
func suffixToken(sku string) string {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return ""
	}
	parts := strings.FieldsFunc(sku, func(r rune) bool {
		return r == '-' || r == '_' || r == ' ' || r == '.'
	})
	if len(parts) < 2 {
		return ""
	}
	return strings.ToUpper(parts[len(parts)-1])
}

func classifyToken(token string) (tokenCategory, string) {
	if token == "" {
		return categoryNone, ""
	}
	if _, ok := sizeTokens[token]; ok {
		return categorySize, token
	}
	if reCapacityToken.MatchString(token) {
		return categoryCapacity, formatCapacity(token)
	}
	if reDimensionToken.MatchString(token) {
		return categoryDimension, respaceDimensions(token)
	}
	if reIndexToken.MatchString(token) {
		if reNumericSize.MatchString(token) {
			return categorySize, token
		}
		return categoryIndex, token
	}
	if reModelToken.MatchString(token) {
		return categoryModel, token
	}
	return categoryNone, ""
}

// formatCapacity renders 300ML as "300 ml" and 1L as "1 L".
func formatCapacity(token string) string {
	m := reCapacityToken.FindStringSubmatch(token)
	if m == nil {
		return token
	}
	unit := strings.ToLower(m[2])
	if unit == "l" {
		unit = "L"
	}
	return m[1] + " " + unit
}

func axisNameFor(category tokenCategory) string {
	switch category {
	case categorySize:
		return "Tamanho"
	case categoryCapacity:
		return "Capacidade"
	case categoryDimension:
		return "Dimensões"
	case categoryModel:
		return "Modelo"
	}
	return ""
}

// inferAxisName guesses an axis name from the shape of an explicit value.
func inferAxisName(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if _, ok := colorNames[normalized]; ok {
		return "Cor"
	}
	upper := strings.ToUpper(strings.TrimSpace(value))
	if _, ok := sizeTokens[upper]; ok {
		return "Tamanho"
	}
	if reCapacityToken.MatchString(upper) {
		return "Capacidade"
	}
	if reDimensionToken.MatchString(upper) {
		return "Dimensões"
	}
	if reNumericSize.MatchString(upper) {
		return "Tamanho"
	}
	return ""
}

func allEqual(values []string) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}
