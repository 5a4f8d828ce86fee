package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"nfeimport/internal/config"
)

func writeCatalog(t *testing.T, dir string) string {
	t.Helper()
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	headers := []string{"Código", "Descrição", "EAN13", "Marca", "Peso", "Composição"}
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		t.Fatalf("headers: %v", err)
	}
	row := []string{"08158", "TACA CRISTAL LAPIDADA 300ML", "7899525681589", "MART", "0,4", "70% CRISTAL"}
	if err := f.SetSheetRow(sheet, "A2", &row); err != nil {
		t.Fatalf("row: %v", err)
	}
	path := filepath.Join(dir, "catalogo.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	return path
}

func processorSettings(t *testing.T) *config.Settings {
	t.Helper()
	base := t.TempDir()
	s, err := config.Load(filepath.Join(base, "missing.yaml"))
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	s.Paths.InputDir = filepath.Join(base, "input")
	s.Paths.OutputDir = filepath.Join(base, "output")
	s.Paths.LogDir = filepath.Join(base, "logs")
	s.Paths.SynonymsFile = filepath.Join(base, "synonyms.json")
	s.Paths.CatalogFile = writeCatalog(t, base)
	if err := s.EnsureDirs(); err != nil {
		t.Fatalf("dirs: %v", err)
	}
	return s
}

func TestProcessFilesEndToEnd(t *testing.T) {
	s := processorSettings(t)
	p := NewProcessor(s, nil, zerolog.Nop())
	if p.ProductCount() != 1 {
		t.Fatalf("product count = %d, want 1", p.ProductCount())
	}

	invoicePath := filepath.Join(s.Paths.InputDir, "nota.xml")
	if err := os.WriteFile(invoicePath, []byte(sampleNFe), 0o644); err != nil {
		t.Fatalf("write invoice: %v", err)
	}

	summary, err := p.ProcessDirectory("cli", "ana")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(summary.Invoices) != 1 || len(summary.Matched) != 1 || len(summary.Unmatched) != 1 {
		t.Fatalf("summary counts = %d/%d/%d", len(summary.Invoices), len(summary.Matched), len(summary.Unmatched))
	}
	if _, err := os.Stat(summary.CSVPath); err != nil {
		t.Fatalf("csv not written: %v", err)
	}
	csvRaw, err := os.ReadFile(summary.CSVPath)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	// Catalogue composition must travel the whole way into the metafield.
	if !strings.Contains(string(csvRaw), "70% CRISTAL") {
		t.Fatal("composition from the spreadsheet missing in the output")
	}
	if summary.PendingsPath == "" {
		t.Fatal("expected pendings file for unmatched item")
	}

	record, err := p.LoadRun(summary.RunID)
	if err != nil {
		t.Fatalf("load run: %v", err)
	}
	if record.Matched != 1 || record.Unmatched != 1 || record.Items != 2 {
		t.Fatalf("run record = %+v", record)
	}

	runs, err := p.ListRuns()
	if err != nil || len(runs) != 1 {
		t.Fatalf("list runs = %v, %v", runs, err)
	}

	raw, err := os.ReadFile(filepath.Join(s.Paths.LogDir, "metrics.json"))
	if err != nil {
		t.Fatalf("metrics not written: %v", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("metrics not valid JSON: %v", err)
	}
	if !strings.Contains(string(raw), summary.RunID) {
		t.Fatal("metrics missing run entry")
	}

	if _, err := os.Stat(s.Paths.SynonymsFile); err != nil {
		t.Fatalf("synonym cache not flushed: %v", err)
	}
}

func TestProcessorStartsWithMissingCatalog(t *testing.T) {
	s := processorSettings(t)
	s.Paths.CatalogFile = filepath.Join(t.TempDir(), "nope.xlsx")
	p := NewProcessor(s, nil, zerolog.Nop())
	if p.ProductCount() != 0 {
		t.Fatalf("product count = %d, want 0", p.ProductCount())
	}

	summary, err := p.ProcessFiles(nil, "cli", "")
	if err != nil {
		t.Fatalf("empty run: %v", err)
	}
	if len(summary.Matched) != 0 {
		t.Fatalf("matched = %d, want 0", len(summary.Matched))
	}
}

func TestReloadCatalog(t *testing.T) {
	s := processorSettings(t)
	p := NewProcessor(s, nil, zerolog.Nop())

	f, err := excelize.OpenFile(s.Paths.CatalogFile)
	if err != nil {
		t.Fatalf("open catalogue: %v", err)
	}
	row := []string{"SKU-NEW", "PRODUTO NOVO", "", "MART", ""}
	if err := f.SetSheetRow(f.GetSheetName(0), "A3", &row); err != nil {
		t.Fatalf("append row: %v", err)
	}
	if err := f.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	count, err := p.ReloadCatalog()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if count != 2 || p.ProductCount() != 2 {
		t.Fatalf("product count after reload = %d/%d, want 2", count, p.ProductCount())
	}
}

func TestRegisterManualMatch(t *testing.T) {
	s := processorSettings(t)
	p := NewProcessor(s, nil, zerolog.Nop())

	err := p.RegisterManualMatch("08158", "FORN-1", "", "BANDEJA FORNECEDOR", "KEY-1", 2, "ana")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	raw, err := os.ReadFile(s.Paths.SynonymsFile)
	if err != nil {
		t.Fatalf("cache not saved: %v", err)
	}
	content := string(raw)
	if !strings.Contains(content, "FORN-1") || !strings.Contains(content, "KEY-1") {
		t.Fatalf("cache content = %q", content)
	}

	if err := p.RegisterManualMatch("", "x", "", "", "", 0, ""); err == nil {
		t.Fatal("expected error for empty SKU")
	}
}
