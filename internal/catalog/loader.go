// Package catalog loads the master product spreadsheet and builds the
// lookup indexes the matcher works against.
package catalog

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"nfeimport/internal"
	"nfeimport/internal/util"
)

// columnMapping translates sanitized spreadsheet headers to canonical field
// names. Unlisted headers are carried along as extra columns.
var columnMapping = map[string]string{
	"codigo":                "sku",
	"cod":                   "sku",
	"sku":                   "sku",
	"descricao":             "title",
	"descricao_do_produto":  "title",
	"name":                  "title",
	"ean13":                 "barcode",
	"ean":                   "barcode",
	"codigo_barras":         "barcode",
	"marca":                 "vendor",
	"fabricante":            "vendor",
	"categoria":             "product_type",
	"subcategoria":          "product_type",
	"colecao":               "collection",
	"unid":                  "unit",
	"unid_":                 "unit",
	"ncm":                   "ncm",
	"cest":                  "cest",
	"peso_prod_c_emb_kg":    "weight",
	"peso":                  "weight",
	"tags":                  "tags",
	"features":              "features",
	"composicao":            "composition",
	"cfop":                  "cfop",
	"preco":                 "price",
	"preco_venda":           "price",
	"preco_sugerido":        "price",
	"textos":                "catalog_description",
	"descricao_completa":    "catalog_description",
	"descricao_detalhada":   "catalog_description",
}

var reColumnSeps = regexp.MustCompile(`[^a-z0-9]+`)

// sanitizeColumn lowers the header and replaces every run of non-alphanumeric
// runes with one underscore, trimming leading and trailing ones.
func sanitizeColumn(name string) string {
	lowered := strings.ToLower(util.StripAccents(strings.TrimSpace(name)))
	return strings.Trim(reColumnSeps.ReplaceAllString(lowered, "_"), "_")
}

// Load reads every product row from the first sheet. Rows without a SKU are
// skipped. Callers treat an error as an empty catalogue.
func Load(path string) ([]internal.CatalogProduct, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open catalogue %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("catalogue %s has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read catalogue rows: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = sanitizeColumn(h)
	}

	products := make([]internal.CatalogProduct, 0, len(rows)-1)
	for _, row := range rows[1:] {
		p := parseRow(headers, row)
		if p.SKU == "" {
			continue
		}
		products = append(products, p)
	}
	return products, nil
}

func parseRow(headers, row []string) internal.CatalogProduct {
	p := internal.CatalogProduct{
		Metafields: map[string]string{},
		Extra:      map[string]internal.ExtraValue{},
	}

	for i, header := range headers {
		if header == "" || i >= len(row) {
			continue
		}
		value := strings.TrimSpace(row[i])
		if value == "" {
			continue
		}

		canonical, mapped := columnMapping[header]
		if !mapped {
			if name, ok := strings.CutPrefix(header, "metafield_"); ok && name != "" {
				p.Metafields[name] = value
				continue
			}
			p.Extra[header] = parseExtra(value)
			continue
		}

		switch canonical {
		case "sku":
			p.SKU = util.NormalizeSKU(value)
		case "title":
			p.Title = value
		case "barcode":
			p.Barcode = util.NormalizeBarcode(value)
		case "vendor":
			p.Vendor = value
		case "product_type":
			p.ProductType = value
		case "collection":
			p.Collection = value
		case "unit":
			p.Unit = value
		case "ncm":
			p.NCM = util.NormalizeBarcode(value)
		case "cest":
			p.CEST = util.NormalizeBarcode(value)
		case "weight":
			if w, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", "."), 64); err == nil && w > 0 {
				p.Weight = &w
			}
		case "tags":
			for _, tag := range strings.Split(value, ",") {
				if t := strings.TrimSpace(tag); t != "" {
					p.Tags = append(p.Tags, t)
				}
			}
		case "composition":
			p.Metafields["composition"] = value
		default:
			// features, cfop, price, catalog_description keep their
			// canonical key in the extra bag.
			p.Extra[canonical] = parseExtra(value)
		}
	}
	return p
}

// parseExtra keeps numbers and booleans typed so they render back without
// spreadsheet formatting noise. Digit strings with a leading zero stay text.
func parseExtra(value string) internal.ExtraValue {
	switch strings.ToUpper(value) {
	case "TRUE", "VERDADEIRO":
		return internal.ExtraBool(true)
	case "FALSE", "FALSO":
		return internal.ExtraBool(false)
	}
	if len(value) > 1 && value[0] == '0' && !strings.ContainsAny(value, ".,") {
		return internal.ExtraText(value)
	}
	normalized := strings.ReplaceAll(value, ",", ".")
	if f, err := strconv.ParseFloat(normalized, 64); err == nil {
		return internal.ExtraNumber(f)
	}
	return internal.ExtraText(value)
}
