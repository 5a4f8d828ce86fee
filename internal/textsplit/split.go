// Package textsplit partitions free-form catalogue text into a product
// description part and a usage/care instruction part.
package textsplit

import (
	"regexp"
	"sort"
	"strings"

	"nfeimport/internal/util"
)

// DefaultUsageMarkers are the Portuguese words and phrases that indicate care
// or usage instructions. A caller-supplied list replaces these for one call.
var DefaultUsageMarkers = []string{
	"recomendacoes",
	"recomendações",
	"para limpeza",
	"para limpar",
	"nao utilizar",
	"não utilizar",
	"nao usar",
	"não usar",
	"pano",
	"espanador",
	"limpeza",
	"limpar",
	"higienizacao",
	"higienização",
	"manutencao",
	"manutenção",
	"uso",
}

// StrongLabels are headings that classify a paragraph as usage on their own,
// regardless of the marker score. Caller markers extend, never replace, these.
var StrongLabels = []string{
	"recomendações",
	"recomendacoes",
	"instruções",
	"instrucoes",
	"para limpeza",
}

var reBlankLines = regexp.MustCompile(`\n{2,}`)

func normalizeMarkers(markers []string) []string {
	seen := map[string]struct{}{}
	for _, m := range markers {
		m = strings.ToLower(util.StripAccents(m))
		if m == "" {
			continue
		}
		seen[m] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func usageScore(block string, markers []string) int {
	lowered := strings.ToLower(util.StripAccents(block))
	score := 0
	for _, m := range markers {
		score += strings.Count(lowered, m)
	}
	return score
}

func startsWithStrongLabel(block string, labels []string) bool {
	lowered := strings.TrimLeft(strings.ToLower(util.StripAccents(block)), " \t\n\r")
	for _, label := range labels {
		if strings.HasPrefix(lowered, label) {
			return true
		}
	}
	return false
}

// labelSplitter builds a pattern matching the newline run before a strong
// label so paragraphs with an inline transition can be cut there.
func labelSplitter(labels []string) *regexp.Regexp {
	if len(labels) == 0 {
		return nil
	}
	quoted := make([]string, 0, len(labels))
	for _, label := range labels {
		if label != "" {
			quoted = append(quoted, regexp.QuoteMeta(label))
		}
	}
	if len(quoted) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)\n+([ \t]*(?:` + strings.Join(quoted, "|") + `))`)
}

func splitBlocks(text string, splitter *regexp.Regexp) []string {
	raw := reBlankLines.Split(text, -1)

	blocks := make([]string, 0, len(raw))
	for _, chunk := range raw {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		if splitter == nil {
			blocks = append(blocks, chunk)
			continue
		}
		blocks = append(blocks, cutBeforeLabels(chunk, splitter)...)
	}

	if len(blocks) == 0 {
		trimmed := strings.TrimSpace(text)
		if trimmed != "" {
			blocks = append(blocks, trimmed)
		}
	}
	return blocks
}

func cutBeforeLabels(chunk string, splitter *regexp.Regexp) []string {
	matches := splitter.FindAllStringSubmatchIndex(chunk, -1)
	if len(matches) == 0 {
		return []string{chunk}
	}
	pieces := make([]string, 0, len(matches)+1)
	prev := 0
	for _, m := range matches {
		head := strings.TrimSpace(chunk[prev:m[0]])
		if head != "" {
			pieces = append(pieces, head)
		}
		prev = m[2] // start of the label group, newlines consumed
	}
	if tail := strings.TrimSpace(chunk[prev:]); tail != "" {
		pieces = append(pieces, tail)
	}
	return pieces
}

func classify(text string, overrides []string) (description, usage []string) {
	markers := DefaultUsageMarkers
	labels := StrongLabels
	if len(overrides) > 0 {
		markers = overrides
		labels = append(append([]string{}, StrongLabels...), overrides...)
	}
	normMarkers := normalizeMarkers(markers)
	normLabels := normalizeMarkers(labels)
	// The splitter matches both the raw and the accent-stripped label forms
	// so accented headings in the source text still cut the paragraph.
	splitter := labelSplitter(append(append([]string{}, labels...), normLabels...))

	for _, block := range splitBlocks(text, splitter) {
		if usageScore(block, normMarkers) >= 2 || startsWithStrongLabel(block, normLabels) {
			usage = append(usage, block)
		} else {
			description = append(description, block)
		}
	}
	return description, usage
}

// Classify partitions text into description and usage paragraph lists
// without the whole-input fallback, for callers that route paragraphs
// individually.
func Classify(text string, markers []string) (description, usage []string) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return classify(text, markers)
}

// Split returns the description and usage portions of text. When no block
// classifies either way the whole input is kept as description: losing
// content to the heuristic is worse than an unsplit description.
func Split(text string, markers []string) (string, string) {
	if strings.TrimSpace(text) == "" {
		return "", ""
	}
	description, usage := classify(text, markers)
	if len(usage) == 0 {
		if len(description) == 0 {
			return strings.TrimSpace(text), ""
		}
		return strings.Join(description, "\n\n"), ""
	}
	return strings.Join(description, "\n\n"), strings.Join(usage, "\n\n")
}
