package catalog

import (
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

func writeCatalogFile(t *testing.T, headers []string, rows [][]string) string {
	t.Helper()
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		t.Fatalf("write headers: %v", err)
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("write row %d: %v", i, err)
		}
	}
	path := filepath.Join(t.TempDir(), "catalogo.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}
	return path
}

func TestSanitizeColumn(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Código", "codigo"},
		{"Descrição do Produto", "descricao_do_produto"},
		{"PESO PROD C/EMB (KG)", "peso_prod_c_emb_kg"},
		{"EAN13", "ean13"},
		{"  Tags  ", "tags"},
	}
	for _, c := range cases {
		if got := sanitizeColumn(c.in); got != c.want {
			t.Fatalf("sanitizeColumn(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestLoadMapsColumns(t *testing.T) {
	path := writeCatalogFile(t,
		[]string{"Código", "Descrição", "EAN13", "Marca", "Categoria", "Coleção", "Peso", "Tags", "Composição", "Linha Especial"},
		[][]string{
			{"sku-10", "Bandeja Redonda Inox", "7899525681589", "Casa Fina", "Bandejas", "Verão", "0,45", "inox, cozinha", "Aço inox", "Premium"},
			{"", "linha sem codigo", "", "", "", "", "", "", "", ""},
		},
	)

	products, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("loaded %d products, want 1 (row without SKU skipped)", len(products))
	}

	p := products[0]
	if p.SKU != "SKU-10" {
		t.Fatalf("SKU = %q, want SKU-10", p.SKU)
	}
	if p.Title != "Bandeja Redonda Inox" || p.Barcode != "7899525681589" {
		t.Fatalf("title/barcode = %q/%q", p.Title, p.Barcode)
	}
	if p.Vendor != "Casa Fina" || p.ProductType != "Bandejas" || p.Collection != "Verão" {
		t.Fatalf("vendor/type/collection = %q/%q/%q", p.Vendor, p.ProductType, p.Collection)
	}
	if p.Weight == nil || *p.Weight != 0.45 {
		t.Fatalf("weight = %v, want 0.45", p.Weight)
	}
	if len(p.Tags) != 2 || p.Tags[0] != "inox" || p.Tags[1] != "cozinha" {
		t.Fatalf("tags = %v", p.Tags)
	}
	if got := p.Metafields["composition"]; got != "Aço inox" {
		t.Fatalf("composition metafield = %q, want Aço inox", got)
	}
	if got := p.ExtraString("linha_especial"); got != "Premium" {
		t.Fatalf("unmapped column = %q, want Premium", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.xlsx")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseExtraTyping(t *testing.T) {
	if v := parseExtra("12,5"); v.String() != "12.5" {
		t.Fatalf("numeric extra = %q, want 12.5", v.String())
	}
	if v := parseExtra("VERDADEIRO"); v.String() != "TRUE" {
		t.Fatalf("boolean extra = %q, want TRUE", v.String())
	}
	if v := parseExtra("0123"); v.String() != "0123" {
		t.Fatalf("leading-zero code = %q, want 0123", v.String())
	}
}

func TestBuildIndex(t *testing.T) {
	path := writeCatalogFile(t,
		[]string{"Código", "Descrição", "EAN13"},
		[][]string{
			{"SKU-1", "Taça de Cristal Lapidada", "7899525681589"},
			{"SKU-2", "Bandeja Retangular Cobre", ""},
		},
	)
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	idx := BuildIndex(loaded)
	if _, ok := idx.BySKU["SKU-1"]; !ok {
		t.Fatal("SKU-1 missing from BySKU")
	}
	if got := len(idx.ByBarcode["7899525681589"]); got != 1 {
		t.Fatalf("barcode index size = %d, want 1", got)
	}
	if idx.ComparisonBySKU["SKU-1"] != "taca cristal lapidada" {
		t.Fatalf("comparison text = %q", idx.ComparisonBySKU["SKU-1"])
	}
}
