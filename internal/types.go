package internal

import (
	"strconv"
	"strings"
	"time"
)

// MatchSource identifies which cascade stage resolved an item.
type MatchSource string

const (
	SourceSynonymSKU         MatchSource = "synonym-sku"
	SourceSKU                MatchSource = "sku"
	SourceSynonymBarcode     MatchSource = "synonym-barcode"
	SourceBarcode            MatchSource = "barcode"
	SourceSynonymDescription MatchSource = "synonym-description"
	SourceFuzzy              MatchSource = "fuzzy"
)

// NFEItem is one line item read from an NF-e XML file. Code carries the
// supplier-side cProd value, which is not the catalogue SKU.
type NFEItem struct {
	InvoiceKey  string
	ItemNumber  int
	Code        string
	Description string
	Barcode     string
	NCM         string
	CEST        string
	CFOP        string
	Unit        string
	Quantity    float64
	UnitValue   float64
	TotalValue  float64
	Additional  map[string]string
}

type InvoiceInfo struct {
	AccessKey     string
	InvoiceNumber string
	IssueDate     *time.Time
	SupplierName  string
	SupplierCNPJ  string
	FilePath      string
	Items         []NFEItem
}

// ExtraKind tags the value variant stored for an unrecognized catalogue column.
type ExtraKind int

const (
	ExtraTextKind ExtraKind = iota
	ExtraNumberKind
	ExtraBoolKind
)

// ExtraValue is a tagged value carried verbatim from a spreadsheet column that
// the loader did not map to a concrete product field.
type ExtraValue struct {
	Kind   ExtraKind
	Text   string
	Number float64
	Bool   bool
}

func ExtraText(v string) ExtraValue    { return ExtraValue{Kind: ExtraTextKind, Text: v} }
func ExtraNumber(v float64) ExtraValue { return ExtraValue{Kind: ExtraNumberKind, Number: v} }
func ExtraBool(v bool) ExtraValue      { return ExtraValue{Kind: ExtraBoolKind, Bool: v} }

// String renders the value the way it is written into an output cell.
func (v ExtraValue) String() string {
	switch v.Kind {
	case ExtraNumberKind:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case ExtraBoolKind:
		if v.Bool {
			return "TRUE"
		}
		return "FALSE"
	default:
		return v.Text
	}
}

// IsBlank reports whether the value carries no usable content.
func (v ExtraValue) IsBlank() bool {
	if v.Kind != ExtraTextKind {
		return false
	}
	t := strings.ToLower(strings.TrimSpace(v.Text))
	return t == "" || t == "nan" || t == "none" || t == "null"
}

// CatalogProduct is one master catalogue entry. Weight is kilograms; nil means
// the catalogue does not provide one.
type CatalogProduct struct {
	SKU         string
	Title       string
	Barcode     string
	Vendor      string
	ProductType string
	Collection  string
	Unit        string
	NCM         string
	CEST        string
	Weight      *float64
	Tags        []string
	Metafields  map[string]string
	Extra       map[string]ExtraValue
}

// ExtraString returns the rendered extra column value, or "" when absent or blank.
func (p CatalogProduct) ExtraString(key string) string {
	v, ok := p.Extra[key]
	if !ok || v.IsBlank() {
		return ""
	}
	return strings.TrimSpace(v.String())
}

// ExtraFloat returns the extra column as a number when it carries one.
func (p CatalogProduct) ExtraFloat(key string) (float64, bool) {
	v, ok := p.Extra[key]
	if !ok {
		return 0, false
	}
	switch v.Kind {
	case ExtraNumberKind:
		return v.Number, true
	case ExtraTextKind:
		s := strings.ReplaceAll(strings.TrimSpace(v.Text), ",", ".")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

type MatchDecision struct {
	Item       NFEItem
	Product    CatalogProduct
	Confidence float64
	Source     MatchSource
	Notes      string
}

type Suggestion struct {
	Product    CatalogProduct
	Confidence float64
}

type UnmatchedItem struct {
	Item        NFEItem
	Suggestions []Suggestion
	Reason      string
}

// ProcessingSummary is the immutable record of one pipeline run.
type ProcessingSummary struct {
	RunID        string
	CreatedAt    time.Time
	Invoices     []InvoiceInfo
	Matched      []MatchDecision
	Unmatched    []UnmatchedItem
	CSVPath      string
	PendingsPath string
	Mode         string
	User         string
}
