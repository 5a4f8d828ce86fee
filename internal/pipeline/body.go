package pipeline

import (
	"regexp"
	"strings"

	"nfeimport/internal/textsplit"
	"nfeimport/internal/util"
)

var (
	reBlankRuns  = regexp.MustCompile(`\n{3,}`)
	reSpaceRuns  = regexp.MustCompile(`[ \t]+`)
	reLineSpaces = regexp.MustCompile(`[ \t]+\n`)
)

// assembleBody builds the product description from the catalogue long text,
// falling back to the short features column, then the invoice free-text
// notes. Usage-instruction paragraphs are routed into the returned usage
// string instead of the body.
func (g *Generator) assembleBody(agg *aggregate) (body, usage string) {
	p := agg.product

	primary := p.ExtraString("catalog_description")
	if primary == "" {
		primary = p.ExtraString("features")
	}
	parts := make([]string, 0, 1+len(agg.notes))
	if primary != "" {
		parts = append(parts, primary)
	}
	parts = append(parts, agg.notes...)

	text := strings.Join(parts, "\n\n")
	text = strings.ReplaceAll(text, "_x000D_", "")
	text = reLineSpaces.ReplaceAllString(text, "\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ""
	}

	if composition := strings.TrimSpace(p.Metafields["composition"]); composition != "" {
		text = removeComposition(text, composition)
	}

	descBlocks, usageBlocks := textsplit.Classify(text, nil)
	body = reBlankRuns.ReplaceAllString(strings.TrimSpace(strings.Join(descBlocks, "\n\n")), "\n\n")
	usage = strings.TrimSpace(strings.Join(usageBlocks, "\n\n"))
	return body, usage
}

// removeComposition strips the composition text from the body when the same
// content is already exported as a metafield. Tries whole paragraphs first,
// then single lines, then a literal substring as a last resort. Comparison
// ignores case, accents and whitespace runs.
func removeComposition(text, composition string) string {
	target := comparisonKey(composition)
	if target == "" {
		return text
	}

	paragraphs := regexp.MustCompile(`\n{2,}`).Split(text, -1)
	kept := paragraphs[:0]
	removed := false
	for _, paragraph := range paragraphs {
		if comparisonKey(paragraph) == target {
			removed = true
			continue
		}
		kept = append(kept, paragraph)
	}
	if removed {
		return strings.TrimSpace(strings.Join(kept, "\n\n"))
	}

	lines := strings.Split(text, "\n")
	keptLines := lines[:0]
	for _, line := range lines {
		if comparisonKey(line) == target {
			removed = true
			continue
		}
		keptLines = append(keptLines, line)
	}
	if removed {
		return strings.TrimSpace(strings.Join(keptLines, "\n"))
	}

	pattern := substringPattern(composition)
	if pattern == nil {
		return text
	}
	cleaned := pattern.ReplaceAllString(text, " ")
	cleaned = reSpaceRuns.ReplaceAllString(cleaned, " ")
	cleaned = reBlankRuns.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}

// comparisonKey folds a text chunk for duplicate detection.
func comparisonKey(s string) string {
	s = strings.ToLower(util.StripAccents(s))
	return strings.Join(strings.Fields(s), " ")
}

// substringPattern matches the composition with flexible whitespace, accent
// differences excluded (the caller already failed exact comparisons).
func substringPattern(composition string) *regexp.Regexp {
	fields := strings.Fields(composition)
	if len(fields) == 0 {
		return nil
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = regexp.QuoteMeta(f)
	}
	pattern, err := regexp.Compile(`(?i)` + strings.Join(quoted, `\s+`))
	if err != nil {
		return nil
	}
	return pattern
}
