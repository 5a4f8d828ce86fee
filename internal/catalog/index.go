package catalog

import (
	"nfeimport/internal"
	"nfeimport/internal/util"
)

// Index holds the lookup structures built once per catalogue load. The
// comparison text per SKU concatenates title, collection and product type,
// which is what fuzzy scoring runs against.
type Index struct {
	Products        []internal.CatalogProduct
	BySKU           map[string]internal.CatalogProduct
	ByBarcode       map[string][]internal.CatalogProduct
	ComparisonBySKU map[string]string
}

func BuildIndex(products []internal.CatalogProduct) *Index {
	idx := &Index{
		Products:        products,
		BySKU:           map[string]internal.CatalogProduct{},
		ByBarcode:       map[string][]internal.CatalogProduct{},
		ComparisonBySKU: map[string]string{},
	}

	for _, p := range products {
		sku := util.NormalizeSKU(p.SKU)
		if sku == "" {
			continue
		}
		if _, dup := idx.BySKU[sku]; dup {
			continue
		}
		idx.BySKU[sku] = p

		if barcode := util.NormalizeBarcode(p.Barcode); barcode != "" {
			idx.ByBarcode[barcode] = append(idx.ByBarcode[barcode], p)
		}

		idx.ComparisonBySKU[sku] = util.NormalizeText(p.Title + " " + p.Collection + " " + p.ProductType)
	}

	return idx
}
