package pipeline

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"nfeimport/internal"
	"nfeimport/internal/config"
)

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	s, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	s.Paths.OutputDir = t.TempDir()
	return s
}

func newTestGenerator(t *testing.T, s *config.Settings) *Generator {
	t.Helper()
	if s == nil {
		s = testSettings(t)
	}
	return NewGenerator(s, nil, zerolog.Nop())
}

func decisionFor(p internal.CatalogProduct, qty, unitValue float64) internal.MatchDecision {
	return internal.MatchDecision{
		Item: internal.NFEItem{
			InvoiceKey:  "TEST",
			ItemNumber:  1,
			Code:        p.SKU,
			Description: p.Title,
			Barcode:     p.Barcode,
			NCM:         p.NCM,
			CEST:        p.CEST,
			CFOP:        "5102",
			Unit:        firstNonEmpty(p.Unit, "UN"),
			Quantity:    qty,
			UnitValue:   unitValue,
			TotalValue:  qty * unitValue,
		},
		Product:    p,
		Confidence: 1.0,
		Source:     internal.SourceSKU,
	}
}

func rowBySKU(t *testing.T, rows []Row, sku string) Row {
	t.Helper()
	for _, row := range rows {
		if row["Variant SKU"] == sku {
			return row
		}
	}
	t.Fatalf("no row for SKU %q", sku)
	return nil
}

func TestGenerateWritesCSV(t *testing.T) {
	s := testSettings(t)
	g := newTestGenerator(t, s)
	w := 0.4
	product := internal.CatalogProduct{
		SKU:         "08158",
		Title:       "BANDEJA EM METAL COM ESPELHO",
		Barcode:     "7899525681589",
		Vendor:      "MART",
		ProductType: "BANDEJAS",
		Unit:        "PC",
		NCM:         "73239900",
		Weight:      &w,
		Metafields:  map[string]string{"composition": "70% METAL"},
		Extra: map[string]internal.ExtraValue{
			"features": internal.ExtraText("Detalhes decorativos"),
		},
	}

	csvPath, pendingsPath, rows, err := g.Generate(
		[]internal.MatchDecision{decisionFor(product, 2, 10)}, nil, "20240101T000000")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if pendingsPath != "" {
		t.Fatalf("pendings path = %q, want empty without unmatched items", pendingsPath)
	}

	row := rows[0]
	if row["Variant SKU"] != "08158" || row["Variant Price"] != "20.00" {
		t.Fatalf("sku/price = %q/%q", row["Variant SKU"], row["Variant Price"])
	}
	if row["Cost per item"] != "10.00" || row["Variant Inventory Qty"] != "2" {
		t.Fatalf("cost/qty = %q/%q", row["Cost per item"], row["Variant Inventory Qty"])
	}

	raw, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if !strings.HasPrefix(string(raw), "\uFEFF") {
		t.Fatal("csv missing UTF-8 BOM")
	}
	reader := csv.NewReader(strings.NewReader(strings.TrimPrefix(string(raw), "\uFEFF")))
	records, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	for i, col := range ShopifyHeader {
		if records[0][i] != col {
			t.Fatalf("header column %d = %q, want %q", i, records[0][i], col)
		}
	}
	colIdx := func(name string) int {
		for i, col := range records[0] {
			if col == name {
				return i
			}
		}
		t.Fatalf("column %q missing from header", name)
		return -1
	}
	if got := records[1][colIdx("product.metafields.custom.ncm")]; got != "73239900" {
		t.Fatalf("ncm metafield round-trip = %q, want 73239900", got)
	}
	if got := records[1][colIdx("product.metafields.custom.cfop")]; got != "5102" {
		t.Fatalf("cfop metafield round-trip = %q, want 5102", got)
	}
}

func TestBodyRemovesDuplicateComposition(t *testing.T) {
	g := newTestGenerator(t, nil)
	w := 0.6
	product := internal.CatalogProduct{
		SKU:        "SKU-BODY",
		Title:      "Escultura Decorativa",
		Vendor:     "MART",
		Weight:     &w,
		Metafields: map[string]string{"composition": "100% POLIRRESINA"},
		Extra: map[string]internal.ExtraValue{
			"features": internal.ExtraText("Peça decorativa _x000D_\n100% POLIRRESINA\nCom acabamento brilhante"),
		},
	}

	rows, err := g.BuildRows([]internal.MatchDecision{decisionFor(product, 1, 10)})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	row := rows[0]
	if strings.Contains(row["Body (HTML)"], "100% POLIRRESINA") {
		t.Fatalf("composition not stripped from body: %q", row["Body (HTML)"])
	}
	if strings.Contains(row["Body (HTML)"], "_x000D_") {
		t.Fatalf("excel artifact left in body: %q", row["Body (HTML)"])
	}
	if row["product.metafields.custom.composicao"] != "100% POLIRRESINA" {
		t.Fatalf("composition metafield = %q", row["product.metafields.custom.composicao"])
	}
}

func TestUsageInstructionsRoutedToMetafield(t *testing.T) {
	g := newTestGenerator(t, nil)
	product := internal.CatalogProduct{
		SKU:    "SKU-USO",
		Title:  "Bandeja Cobre",
		Vendor: "MART",
		Extra: map[string]internal.ExtraValue{
			"features": internal.ExtraText("Bandeja em metal trabalhado.\n\nRecomendações: limpar com pano seco. Evitar produtos abrasivos."),
		},
	}

	rows, err := g.BuildRows([]internal.MatchDecision{decisionFor(product, 1, 10)})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	row := rows[0]
	if strings.Contains(row["Body (HTML)"], "pano seco") {
		t.Fatalf("usage text left in body: %q", row["Body (HTML)"])
	}
	if !strings.Contains(row["product.metafields.custom.modo_de_uso"], "pano seco") {
		t.Fatalf("usage metafield = %q", row["product.metafields.custom.modo_de_uso"])
	}
}

func TestFiscalAndMetafieldDefaults(t *testing.T) {
	g := newTestGenerator(t, nil)
	product := internal.CatalogProduct{SKU: "SKU-FISCAL", Title: "Produto Fiscal", Vendor: "MART"}

	rows, err := g.BuildRows([]internal.MatchDecision{decisionFor(product, 1, 10)})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	row := rows[0]
	for _, col := range []string{
		"product.metafields.custom.icms",
		"product.metafields.custom.ipi",
		"product.metafields.custom.pis",
		"product.metafields.custom.cofins",
	} {
		if row[col] != "0" {
			t.Fatalf("%s = %q, want 0", col, row[col])
		}
	}
	if row["product.metafields.custom.componente_de_kit"] != "FALSE" {
		t.Fatalf("componente_de_kit = %q", row["product.metafields.custom.componente_de_kit"])
	}
	if row["product.metafields.custom.resistencia_a_agua"] != "Não se aplica" {
		t.Fatalf("resistencia_a_agua = %q", row["product.metafields.custom.resistencia_a_agua"])
	}
	for _, col := range []string{"Product Category", "Type", "Collection"} {
		if row[col] != "" {
			t.Fatalf("%s = %q, want empty", col, row[col])
		}
	}
}

func TestWeightAndGramsConversion(t *testing.T) {
	g := newTestGenerator(t, nil)
	heavy, light := 1.25, 0.3
	rows, err := g.BuildRows([]internal.MatchDecision{
		decisionFor(internal.CatalogProduct{SKU: "SKU-HEAVY", Title: "Produto Pesado", Vendor: "MART", Weight: &heavy}, 1, 10),
		decisionFor(internal.CatalogProduct{SKU: "SKU-LIGHT", Title: "Produto Leve", Vendor: "MART", Weight: &light}, 1, 10),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	heavyRow := rowBySKU(t, rows, "SKU-HEAVY")
	if heavyRow["Variant Weight"] != "1.25" || heavyRow["Variant Weight Unit"] != "kg" || heavyRow["Variant Grams"] != "1250" {
		t.Fatalf("heavy = %q/%q/%q", heavyRow["Variant Weight"], heavyRow["Variant Weight Unit"], heavyRow["Variant Grams"])
	}
	lightRow := rowBySKU(t, rows, "SKU-LIGHT")
	if lightRow["Variant Weight"] != "300" || lightRow["Variant Weight Unit"] != "g" || lightRow["Variant Grams"] != "300" {
		t.Fatalf("light = %q/%q/%q", lightRow["Variant Weight"], lightRow["Variant Weight Unit"], lightRow["Variant Grams"])
	}
}

func TestStatusRespectsConfigAndDraftFlag(t *testing.T) {
	s := testSettings(t)
	s.Export.Status = "active"
	g := newTestGenerator(t, s)

	rows, err := g.BuildRows([]internal.MatchDecision{
		decisionFor(internal.CatalogProduct{SKU: "SKU-ACTIVE", Title: "Produto Ativo", Vendor: "MART"}, 1, 10),
		decisionFor(internal.CatalogProduct{
			SKU: "SKU-DRAFT", Title: "Produto Draft", Vendor: "MART",
			Extra: map[string]internal.ExtraValue{"create_as_draft": internal.ExtraBool(true)},
		}, 1, 10),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := rowBySKU(t, rows, "SKU-ACTIVE")["Status"]; got != "active" {
		t.Fatalf("active status = %q", got)
	}
	if got := rowBySKU(t, rows, "SKU-DRAFT")["Status"]; got != "draft" {
		t.Fatalf("draft status = %q", got)
	}
}

func TestOption1ValueUniquePerHandle(t *testing.T) {
	g := newTestGenerator(t, nil)
	rows, err := g.BuildRows([]internal.MatchDecision{
		decisionFor(internal.CatalogProduct{SKU: "SKU-1", Title: "Produto Único", Vendor: "MART"}, 1, 10),
		decisionFor(internal.CatalogProduct{SKU: "SKU-2", Title: "Produto Único", Vendor: "MART"}, 1, 10),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := rowBySKU(t, rows, "SKU-1")["Option1 Value"]; got != "Default Title" {
		t.Fatalf("first option value = %q", got)
	}
	if got := rowBySKU(t, rows, "SKU-2")["Option1 Value"]; got != "Default Title-2" {
		t.Fatalf("second option value = %q", got)
	}
}

func TestSizeSuffixInfersTamanho(t *testing.T) {
	g := newTestGenerator(t, nil)
	rows, err := g.BuildRows([]internal.MatchDecision{
		decisionFor(internal.CatalogProduct{SKU: "CAM-P", Title: "Camiseta Basica", Vendor: "MART"}, 1, 10),
		decisionFor(internal.CatalogProduct{SKU: "CAM-M", Title: "Camiseta Basica", Vendor: "MART"}, 1, 10),
		decisionFor(internal.CatalogProduct{SKU: "CAM-G", Title: "Camiseta Basica", Vendor: "MART"}, 1, 10),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, sku := range []string{"CAM-P", "CAM-M", "CAM-G"} {
		row := rowBySKU(t, rows, sku)
		if row["Option1 Name"] != "Tamanho" {
			t.Fatalf("%s option name = %q", sku, row["Option1 Name"])
		}
		want := strings.TrimPrefix(sku, "CAM-")
		if row["Option1 Value"] != want {
			t.Fatalf("%s option value = %q, want %q", sku, row["Option1 Value"], want)
		}
	}
}

func TestInconsistentSuffixesLeaveOptionsBlank(t *testing.T) {
	g := newTestGenerator(t, nil)
	rows, err := g.BuildRows([]internal.MatchDecision{
		decisionFor(internal.CatalogProduct{SKU: "PROD-ALPHA", Title: "Produto Par", Vendor: "MART"}, 1, 10),
		decisionFor(internal.CatalogProduct{SKU: "PROD-BETA", Title: "Produto Par", Vendor: "MART"}, 1, 10),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, sku := range []string{"PROD-ALPHA", "PROD-BETA"} {
		row := rowBySKU(t, rows, sku)
		for i := 1; i <= 3; i++ {
			n := strconv.Itoa(i)
			if row["Option"+n+" Name"] != "" || row["Option"+n+" Value"] != "" {
				t.Fatalf("%s option %s not blank: %q/%q", sku, n, row["Option"+n+" Name"], row["Option"+n+" Value"])
			}
		}
	}
}

func TestExplicitOptionColumns(t *testing.T) {
	s := testSettings(t)
	s.Variants.Options = []*config.OptionAxisConfig{
		{Name: "Cor", Column: "cor"},
		{Name: "Tamanho", Column: "tamanho"},
	}
	g := newTestGenerator(t, s)

	rows, err := g.BuildRows([]internal.MatchDecision{
		decisionFor(internal.CatalogProduct{SKU: "SKU-AZ-P", Title: "Camiseta", Vendor: "MART",
			Extra: map[string]internal.ExtraValue{"cor": internal.ExtraText("Azul"), "tamanho": internal.ExtraText("P")}}, 1, 10),
		decisionFor(internal.CatalogProduct{SKU: "SKU-VM-P", Title: "Camiseta", Vendor: "MART",
			Extra: map[string]internal.ExtraValue{"cor": internal.ExtraText("Vermelha"), "tamanho": internal.ExtraText("P")}}, 1, 10),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	az := rowBySKU(t, rows, "SKU-AZ-P")
	if az["Option1 Name"] != "Cor" || az["Option1 Value"] != "Azul" || az["Option2 Value"] != "P" {
		t.Fatalf("explicit axes = %q/%q/%q", az["Option1 Name"], az["Option1 Value"], az["Option2 Value"])
	}
	vm := rowBySKU(t, rows, "SKU-VM-P")
	if vm["Option1 Value"] != "Vermelha" {
		t.Fatalf("second color = %q", vm["Option1 Value"])
	}
}

func TestSimpleProductHasNoOptions(t *testing.T) {
	g := newTestGenerator(t, nil)
	rows, err := g.BuildRows([]internal.MatchDecision{
		decisionFor(internal.CatalogProduct{SKU: "SKU-SIMPLE", Title: "Produto Simples", Vendor: "MART"}, 1, 10),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	row := rows[0]
	for i := 1; i <= 3; i++ {
		n := strconv.Itoa(i)
		if row["Option"+n+" Name"] != "" || row["Option"+n+" Value"] != "" {
			t.Fatalf("option %s not blank for simple product: %q/%q", n, row["Option"+n+" Name"], row["Option"+n+" Value"])
		}
	}
}

func TestUninferableExplicitAxisCleared(t *testing.T) {
	s := testSettings(t)
	s.Variants.Options = []*config.OptionAxisConfig{
		{Name: "", Column: "modelo"},
	}
	g := newTestGenerator(t, s)

	rows, err := g.BuildRows([]internal.MatchDecision{
		decisionFor(internal.CatalogProduct{SKU: "SKU-MODELO", Title: "Produto Modelo", Vendor: "MART",
			Extra: map[string]internal.ExtraValue{"modelo": internal.ExtraText("Edição Limitada")}}, 1, 10),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	row := rows[0]
	for i := 1; i <= 3; i++ {
		n := strconv.Itoa(i)
		if row["Option"+n+" Name"] != "" || row["Option"+n+" Value"] != "" {
			t.Fatalf("option %s not cleared: %q/%q", n, row["Option"+n+" Name"], row["Option"+n+" Value"])
		}
	}
}

func TestDynamicMetafieldMapping(t *testing.T) {
	s := testSettings(t)
	s.Metafields.DynamicMap = map[string]string{
		"catalogo":             "catalogo",
		"dimensoes_do_produto": "medidas_s_emb",
		"capacidade":           "capacidade_ml_ou_peso_suportado",
		"ipi":                  "ipi",
	}
	g := newTestGenerator(t, s)

	product := internal.CatalogProduct{
		SKU: "S", Title: "Produto", Vendor: "MART", Unit: "CX",
		Extra: map[string]internal.ExtraValue{
			"catalogo":                        internal.ExtraText("Linha Casa"),
			"medidas_s_emb":                   internal.ExtraText("10x10x10"),
			"capacidade_ml_ou_peso_suportado": internal.ExtraText("2L"),
			"ipi":                             internal.ExtraNumber(12.5),
		},
	}
	decision := decisionFor(product, 1, 10)
	decision.Item.Unit = "CX"

	rows, err := g.BuildRows([]internal.MatchDecision{decision})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	row := rows[0]
	if row["product.metafields.custom.dimensoes_do_produto"] != "10 x 10 x 10" {
		t.Fatalf("dimensions = %q", row["product.metafields.custom.dimensoes_do_produto"])
	}
	if row["product.metafields.custom.capacidade"] != "2L" {
		t.Fatalf("capacity = %q", row["product.metafields.custom.capacidade"])
	}
	if row["product.metafields.custom.catalogo"] != "Linha Casa" {
		t.Fatalf("catalogo = %q", row["product.metafields.custom.catalogo"])
	}
	if row["product.metafields.custom.unidade"] != "CX" {
		t.Fatalf("unidade = %q", row["product.metafields.custom.unidade"])
	}
	if row["product.metafields.custom.ipi"] != "12.5" {
		t.Fatalf("ipi = %q", row["product.metafields.custom.ipi"])
	}
}

func TestTagsSanitization(t *testing.T) {
	s := testSettings(t)
	s.Tags.DropShortCodes = true
	s.Tags.MinAlphaLen = 3
	g := newTestGenerator(t, s)

	product := internal.CatalogProduct{
		SKU: "SKU-TAGS", Title: "Produto Tags", Vendor: "MART",
		ProductType: "Acessórios",
		Tags:        []string{"1T24", "Coleção Nova", "A-01", "Decor"},
	}
	rows, err := g.BuildRows([]internal.MatchDecision{decisionFor(product, 1, 10)})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := rows[0]["Tags"]; got != "Acessórios,Coleção Nova,Decor" {
		t.Fatalf("tags = %q", got)
	}
}

func TestInvalidBarcodeBlanked(t *testing.T) {
	g := newTestGenerator(t, nil)
	product := internal.CatalogProduct{SKU: "SKU-BAD", Title: "Produto", Vendor: "MART", Barcode: "7899525681580"}
	rows, err := g.BuildRows([]internal.MatchDecision{decisionFor(product, 1, 10)})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := rows[0]["Variant Barcode"]; got != "" {
		t.Fatalf("invalid GTIN exported: %q", got)
	}
}

func TestValidationNamesOffendingHandle(t *testing.T) {
	g := newTestGenerator(t, nil)
	product := internal.CatalogProduct{SKU: "SKU-NOVENDOR", Title: "Produto Sem Marca"}
	_, err := g.BuildRows([]internal.MatchDecision{decisionFor(product, 1, 10)})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "Vendor") || !strings.Contains(err.Error(), "produto-marca") {
		t.Fatalf("error does not name field and handle: %v", err)
	}
}

func TestPendingsWrittenForUnmatched(t *testing.T) {
	s := testSettings(t)
	g := newTestGenerator(t, s)
	unmatched := []internal.UnmatchedItem{{
		Item:   internal.NFEItem{InvoiceKey: "KEY", ItemNumber: 3, Code: "C9", Description: "ITEM PERDIDO", Quantity: 1, UnitValue: 5, TotalValue: 5},
		Reason: "No match found",
		Suggestions: []internal.Suggestion{
			{Product: internal.CatalogProduct{SKU: "SKU-5", Title: "Quase Igual"}, Confidence: 0.84},
		},
	}}

	_, pendingsPath, _, err := g.Generate(nil, unmatched, "20240101T000000")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if pendingsPath == "" {
		t.Fatal("expected pendings path")
	}
	raw, err := os.ReadFile(pendingsPath)
	if err != nil {
		t.Fatalf("read pendings: %v", err)
	}
	content := string(raw)
	if !strings.Contains(content, "ITEM PERDIDO") || !strings.Contains(content, "SKU-5 | Quase Igual | 0.84") {
		t.Fatalf("pendings content = %q", content)
	}
}

func TestPendingsUseDedicatedFolder(t *testing.T) {
	s := testSettings(t)
	s.Paths.PendingsDir = filepath.Join(t.TempDir(), "pendencias")
	g := newTestGenerator(t, s)
	unmatched := []internal.UnmatchedItem{{
		Item:   internal.NFEItem{InvoiceKey: "KEY", ItemNumber: 1, Code: "C1", Description: "SEM PAR", Quantity: 1, UnitValue: 2, TotalValue: 2},
		Reason: "No match found",
	}}

	_, pendingsPath, _, err := g.Generate(nil, unmatched, "20240101T000000")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if filepath.Dir(pendingsPath) != s.Paths.PendingsDir {
		t.Fatalf("pendings dir = %q, want %q", filepath.Dir(pendingsPath), s.Paths.PendingsDir)
	}
	if _, err := os.Stat(pendingsPath); err != nil {
		t.Fatalf("pendings not written: %v", err)
	}
}
