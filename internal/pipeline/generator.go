package pipeline

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"nfeimport/internal"
	"nfeimport/internal/config"
	"nfeimport/internal/util"
)

// ShopifyHeader is the import schema contract. Column order is fixed: the
// downstream import rejects files whose header deviates.
var ShopifyHeader = []string{
	"Handle",
	"Title",
	"Body (HTML)",
	"Vendor",
	"Tags",
	"Published",
	"Option1 Name",
	"Option1 Value",
	"Option2 Name",
	"Option2 Value",
	"Option3 Name",
	"Option3 Value",
	"Variant SKU",
	"Variant Price",
	"Variant Compare At Price",
	"Variant Inventory Qty",
	"Variant Weight",
	"Variant Weight Unit",
	"Variant Requires Shipping",
	"Image Src",
	"Variant Barcode",
	"Variant Grams",
	"Variant Inventory Tracker",
	"Variant Inventory Policy",
	"Variant Fulfillment Service",
	"product.metafields.custom.unidade",
	"product.metafields.custom.catalogo",
	"product.metafields.custom.dimensoes_do_produto",
	"product.metafields.custom.composicao",
	"product.metafields.custom.capacidade",
	"product.metafields.custom.modo_de_uso",
	"product.metafields.custom.icms",
	"product.metafields.custom.ncm",
	"product.metafields.custom.pis",
	"product.metafields.custom.ipi",
	"product.metafields.custom.cofins",
	"product.metafields.custom.componente_de_kit",
	"product.metafields.custom.resistencia_a_agua",
	"Variant Taxable",
	"Cost per item",
	"Image Position",
	"Variant Image",
	"Product Category",
	"Type",
	"Collection",
	"Status",
}

var pendingsHeader = []string{
	"invoice_key",
	"item_number",
	"cProd",
	"description",
	"barcode",
	"ncm",
	"cest",
	"cfop",
	"quantity",
	"unit_value",
	"total_value",
	"reason",
	"suggestions",
}

// Row is one output record keyed by column name. Only the emitted columns
// (ShopifyHeader plus configured metafield columns) reach the file.
type Row map[string]string

// ImageResolver maps a product to an image URL; the default resolves nothing.
type ImageResolver func(internal.CatalogProduct) string

// Generator aggregates match decisions into one import row per SKU and
// writes the CSV artifacts.
type Generator struct {
	settings *config.Settings
	resolve  ImageResolver
	logger   zerolog.Logger
}

func NewGenerator(settings *config.Settings, resolver ImageResolver, logger zerolog.Logger) *Generator {
	if resolver == nil {
		resolver = func(internal.CatalogProduct) string { return "" }
	}
	return &Generator{settings: settings, resolve: resolver, logger: logger}
}

type aggregate struct {
	product   internal.CatalogProduct
	totalQty  float64
	totalCost float64
	cfops     map[string]struct{}
	ncms      map[string]struct{}
	cests     map[string]struct{}
	units     map[string]struct{}
	notes     []string
}

// Generate builds, validates and writes both output files. The pendings path
// is empty when every item matched.
func (g *Generator) Generate(matched []internal.MatchDecision, unmatched []internal.UnmatchedItem, runID string) (string, string, []Row, error) {
	rows, err := g.BuildRows(matched)
	if err != nil {
		return "", "", nil, err
	}
	csvPath, err := g.writeCSV(rows, runID)
	if err != nil {
		return "", "", nil, err
	}
	pendingsPath := ""
	if len(unmatched) > 0 {
		pendingsPath, err = g.writePendings(unmatched, runID)
		if err != nil {
			return "", "", nil, err
		}
	}
	g.logger.Info().
		Int("products", len(rows)).
		Int("pending", len(unmatched)).
		Str("csv", csvPath).
		Msg("generated import files")
	return csvPath, pendingsPath, rows, nil
}

// BuildRows aggregates decisions by SKU and derives every output column,
// failing on required-field violations.
func (g *Generator) BuildRows(matched []internal.MatchDecision) ([]Row, error) {
	order := make([]string, 0)
	aggs := map[string]*aggregate{}

	for _, decision := range matched {
		sku := decision.Product.SKU
		agg, ok := aggs[sku]
		if !ok {
			agg = &aggregate{
				product: decision.Product,
				cfops:   map[string]struct{}{},
				ncms:    map[string]struct{}{},
				cests:   map[string]struct{}{},
				units:   map[string]struct{}{},
			}
			aggs[sku] = agg
			order = append(order, sku)
		}
		item := decision.Item
		agg.totalQty += item.Quantity
		agg.totalCost += item.Quantity * item.UnitValue
		addSet(agg.cfops, item.CFOP)
		addSet(agg.ncms, item.NCM)
		addSet(agg.cests, item.CEST)
		addSet(agg.units, item.Unit)
		if note := strings.TrimSpace(item.Additional[AdditionalInfoKey]); note != "" && !contains(agg.notes, note) {
			agg.notes = append(agg.notes, note)
		}
	}

	rows := make([]Row, 0, len(order))
	products := make([]internal.CatalogProduct, 0, len(order))
	for _, sku := range order {
		rows = append(rows, g.buildRow(aggs[sku]))
		products = append(products, aggs[sku].product)
	}

	g.applyVariantOptions(rows, products)
	dedupeOptionCombinations(rows)

	if err := ValidateRows(rows, g.settings.Pricing.Strategy); err != nil {
		return nil, err
	}
	return rows, nil
}

// outputColumns is the emitted header: the fixed schema plus any configured
// metafield column not already part of it (cfop and cest by default).
func (g *Generator) outputColumns() []string {
	cols := make([]string, 0, len(ShopifyHeader)+2)
	cols = append(cols, ShopifyHeader...)
	seen := map[string]struct{}{}
	for _, col := range ShopifyHeader {
		seen[col] = struct{}{}
	}
	for _, key := range g.settings.Metafields.Keys {
		col := "product.metafields." + g.settings.Metafields.Namespace + "." + key
		if _, dup := seen[col]; dup {
			continue
		}
		seen[col] = struct{}{}
		cols = append(cols, col)
	}
	return cols
}

func (g *Generator) buildRow(agg *aggregate) Row {
	p := agg.product
	row := Row{}
	for _, col := range g.outputColumns() {
		row[col] = ""
	}

	row["Handle"] = util.Slugify(firstNonEmpty(p.Title, p.SKU))
	row["Title"] = p.Title
	row["Vendor"] = firstNonEmpty(p.Vendor, g.settings.DefaultVendor)
	row["Published"] = boolUpper(*g.settings.Export.Published)
	row["Variant SKU"] = p.SKU
	row["Variant Barcode"] = g.validBarcode(p.Barcode)
	row["Variant Inventory Qty"] = formatQuantity(agg.totalQty)
	row["Variant Requires Shipping"] = "TRUE"
	row["Variant Taxable"] = "TRUE"
	row["Variant Inventory Tracker"] = "shopify"
	row["Variant Inventory Policy"] = "deny"
	row["Variant Fulfillment Service"] = "manual"
	row["Status"] = g.status(p)
	row["Tags"] = strings.Join(g.buildTags(p), ",")

	costPerItem := 0.0
	if agg.totalQty != 0 {
		costPerItem = agg.totalCost / agg.totalQty
	}
	row["Cost per item"] = formatMoney(util.RoundMoney(costPerItem))
	row["Variant Price"] = g.price(p, costPerItem)

	g.fillWeight(row, p)

	if img := g.resolve(p); img != "" {
		row["Image Src"] = img
		row["Image Position"] = "1"
	}

	body, usage := g.assembleBody(agg)
	row["Body (HTML)"] = body
	g.fillMetafields(row, agg, usage)

	// Product Category, Type and Collection stay empty: the storefront
	// taxonomy is curated manually after import.
	return row
}

func (g *Generator) price(p internal.CatalogProduct, costPerItem float64) string {
	switch g.settings.Pricing.Strategy {
	case config.StrategySomenteCusto:
		return ""
	case config.StrategyTabela:
		if v, ok := p.ExtraFloat("price"); ok && v > 0 {
			return formatMoney(util.RoundMoney(v))
		}
		return ""
	default:
		return formatMoney(util.RoundMoney(costPerItem * g.settings.Pricing.Markup))
	}
}

// fillWeight applies the unit split: under one kilogram the value is exported
// in integer grams, otherwise in kilograms with up to three decimals.
func (g *Generator) fillWeight(row Row, p internal.CatalogProduct) {
	if p.Weight == nil || *p.Weight <= 0 {
		return
	}
	kg := *p.Weight
	grams := int(math.Round(kg * 1000))
	row["Variant Grams"] = strconv.Itoa(grams)
	if kg < 1.0 {
		row["Variant Weight"] = strconv.Itoa(grams)
		row["Variant Weight Unit"] = "g"
		return
	}
	row["Variant Weight"] = strconv.FormatFloat(math.Round(kg*1000)/1000, 'f', -1, 64)
	row["Variant Weight Unit"] = "kg"
}

func (g *Generator) status(p internal.CatalogProduct) string {
	if v, ok := p.Extra["create_as_draft"]; ok {
		if v.Kind == internal.ExtraBoolKind && v.Bool {
			return "draft"
		}
		if strings.EqualFold(strings.TrimSpace(v.Text), "true") {
			return "draft"
		}
	}
	return g.settings.Export.Status
}

var reInternalCode = regexp.MustCompile(`^\dT\d\d$`)

// buildTags prepends the product type and drops internal short codes.
func (g *Generator) buildTags(p internal.CatalogProduct) []string {
	out := make([]string, 0, len(p.Tags)+1)
	seen := map[string]struct{}{}
	add := func(tag string) {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			return
		}
		if _, dup := seen[tag]; dup {
			return
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}

	add(p.ProductType)
	for _, tag := range p.Tags {
		tag = strings.TrimSpace(tag)
		if reInternalCode.MatchString(tag) {
			continue
		}
		if g.settings.Tags.DropShortCodes && alphaCount(tag) < g.settings.Tags.MinAlphaLen {
			continue
		}
		add(tag)
	}
	return out
}

func (g *Generator) fillMetafields(row Row, agg *aggregate, usage string) {
	p := agg.product
	ns := g.settings.Metafields.Namespace
	col := func(key string) string { return "product.metafields." + ns + "." + key }

	row[col("unidade")] = firstNonEmpty(joinSet(agg.units), p.Unit)
	row[col("ncm")] = firstNonEmpty(joinSet(agg.ncms), p.NCM)
	row[col("cest")] = firstNonEmpty(joinSet(agg.cests), p.CEST)
	row[col("cfop")] = joinSet(agg.cfops)
	row[col("composicao")] = strings.TrimSpace(p.Metafields["composition"])
	if usage != "" {
		row[col("modo_de_uso")] = usage
	}

	for metaKey, column := range g.settings.Metafields.DynamicMap {
		value := p.ExtraString(column)
		if value == "" {
			continue
		}
		if reDimensions.MatchString(value) {
			value = respaceDimensions(value)
		}
		row[col(metaKey)] = value
	}

	for _, fiscal := range []string{"icms", "pis", "ipi", "cofins"} {
		if row[col(fiscal)] == "" {
			if v := p.ExtraString(fiscal); v != "" {
				row[col(fiscal)] = v
			} else {
				row[col(fiscal)] = g.settings.Metafields.FiscalDefault
			}
		}
	}

	if row[col("componente_de_kit")] == "" {
		row[col("componente_de_kit")] = boolishString(p.Extra["componente_de_kit"])
	}
	if row[col("resistencia_a_agua")] == "" {
		if v := p.ExtraString("resistencia_a_agua"); v != "" {
			row[col("resistencia_a_agua")] = v
		} else {
			row[col("resistencia_a_agua")] = "Não se aplica"
		}
	}
}

func (g *Generator) validBarcode(barcode string) string {
	normalized := util.NormalizeBarcode(barcode)
	if normalized == "" {
		return ""
	}
	if util.GTINIsValid(normalized) {
		return normalized
	}
	g.logger.Warn().Str("barcode", normalized).Msg("barcode failed GTIN validation, exporting blank")
	return ""
}

func (g *Generator) writeCSV(rows []Row, runID string) (string, error) {
	dir := g.settings.Paths.OutputDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, g.settings.CSVOutput.FilenamePrefix+runID+".csv")

	columns := g.outputColumns()
	records := make([][]string, 0, len(rows)+1)
	records = append(records, columns)
	for _, row := range rows {
		record := make([]string, len(columns))
		for i, colName := range columns {
			record[i] = row[colName]
		}
		records = append(records, record)
	}
	if err := g.writeRecords(path, records, []rune(g.settings.CSVOutput.Delimiter)[0]); err != nil {
		return "", err
	}
	return path, nil
}

func (g *Generator) writePendings(unmatched []internal.UnmatchedItem, runID string) (string, error) {
	dir := firstNonEmpty(g.settings.Paths.PendingsDir, g.settings.Paths.OutputDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create pendings dir: %w", err)
	}
	path := filepath.Join(dir, "pendencias_"+runID+".csv")

	records := [][]string{pendingsHeader}
	for _, pending := range unmatched {
		item := pending.Item
		records = append(records, []string{
			item.InvoiceKey,
			strconv.Itoa(item.ItemNumber),
			item.Code,
			item.Description,
			item.Barcode,
			item.NCM,
			item.CEST,
			item.CFOP,
			strconv.FormatFloat(item.Quantity, 'f', -1, 64),
			strconv.FormatFloat(item.UnitValue, 'f', -1, 64),
			strconv.FormatFloat(item.TotalValue, 'f', -1, 64),
			pending.Reason,
			formatSuggestions(pending.Suggestions),
		})
	}
	if err := g.writeRecords(path, records, ','); err != nil {
		return "", err
	}
	return path, nil
}

func (g *Generator) writeRecords(path string, records [][]string, delimiter rune) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if g.settings.CSVOutput.IncludeBOM == nil || *g.settings.CSVOutput.IncludeBOM {
		if _, err := f.WriteString("\uFEFF"); err != nil {
			return fmt.Errorf("write BOM: %w", err)
		}
	}
	w := csv.NewWriter(f)
	w.Comma = delimiter
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func formatSuggestions(suggestions []internal.Suggestion) string {
	lines := make([]string, 0, len(suggestions))
	for _, s := range suggestions {
		lines = append(lines, fmt.Sprintf("%s | %s | %.2f", s.Product.SKU, s.Product.Title, s.Confidence))
	}
	return strings.Join(lines, "\n")
}

var reDimensions = regexp.MustCompile(`(?i)^\s*\d+(?:[.,]\d+)?\s*x\s*\d+(?:[.,]\d+)?(?:\s*x\s*\d+(?:[.,]\d+)?)?\s*$`)
var reDimensionSep = regexp.MustCompile(`(?i)\s*x\s*`)

func respaceDimensions(value string) string {
	return reDimensionSep.ReplaceAllString(strings.TrimSpace(value), " x ")
}

func formatQuantity(qty float64) string {
	rounded := math.Round(qty)
	if math.Abs(qty-rounded) < 1e-9 {
		return strconv.FormatInt(int64(rounded), 10)
	}
	return strconv.FormatFloat(math.Round(qty*10000)/10000, 'f', -1, 64)
}

func formatMoney(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func boolUpper(v bool) string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}

// boolishString renders catalogue truthy markers as TRUE, anything else FALSE.
func boolishString(v internal.ExtraValue) string {
	if v.Kind == internal.ExtraBoolKind {
		return boolUpper(v.Bool)
	}
	switch strings.ToLower(strings.TrimSpace(v.Text)) {
	case "true", "sim", "verdadeiro", "1":
		return "TRUE"
	}
	return "FALSE"
}

func alphaCount(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}

func addSet(set map[string]struct{}, value string) {
	if value = strings.TrimSpace(value); value != "" {
		set[value] = struct{}{}
	}
}

func joinSet(set map[string]struct{}) string {
	values := make([]string, 0, len(set))
	for v := range set {
		values = append(values, v)
	}
	sort.Strings(values)
	return strings.Join(values, ";")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
