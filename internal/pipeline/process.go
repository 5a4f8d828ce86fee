package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nfeimport/internal"
	"nfeimport/internal/catalog"
	"nfeimport/internal/config"
	"nfeimport/internal/synonyms"
)

// RunRecord is the persisted JSON log of one run, one file per run id.
type RunRecord struct {
	RunID        string            `json:"run_id"`
	CreatedAt    time.Time         `json:"created_at"`
	Mode         string            `json:"mode"`
	User         string            `json:"user,omitempty"`
	Invoices     int               `json:"invoices"`
	Items        int               `json:"items"`
	Matched      int               `json:"matched"`
	Unmatched    int               `json:"unmatched"`
	CSVPath      string            `json:"csv_path"`
	PendingsPath string            `json:"pendings_path,omitempty"`
	PerInvoice   []RunInvoiceEntry `json:"per_invoice,omitempty"`
}

type RunInvoiceEntry struct {
	AccessKey     string `json:"access_key"`
	InvoiceNumber string `json:"invoice_number"`
	Supplier      string `json:"supplier"`
	Items         int    `json:"items"`
}

type metricsDocument struct {
	Runs []metricsEntry `json:"runs"`
}

type metricsEntry struct {
	RunID  string                  `json:"run_id"`
	Fields map[string]metricsField `json:"fields"`
}

type metricsField struct {
	NonEmpty int `json:"non_empty"`
	Total    int `json:"total"`
}

// Processor wires parser, matcher and generator for one configured
// deployment. Methods are serialized: a catalogue reload never races a
// matching pass. Multiple processes sharing one synonym file still risk
// lost updates; that is a known deployment constraint.
type Processor struct {
	mu        sync.Mutex
	settings  *config.Settings
	logger    zerolog.Logger
	matcher   *Matcher
	generator *Generator
	synonyms  *synonyms.Cache
	products  int
}

func NewProcessor(settings *config.Settings, resolver ImageResolver, logger zerolog.Logger) *Processor {
	products, err := catalog.Load(settings.Paths.CatalogFile)
	if err != nil {
		logger.Warn().Err(err).Msg("catalogue unavailable, starting with zero products")
	}
	cache := synonyms.Load(settings.Paths.SynonymsFile)
	return &Processor{
		settings:  settings,
		logger:    logger,
		matcher:   NewMatcher(catalog.BuildIndex(products), cache, settings.Matching.AutoThreshold, logger),
		generator: NewGenerator(settings, resolver, logger),
		synonyms:  cache,
		products:  len(products),
	}
}

// ProductCount reports how many catalogue products are loaded.
func (p *Processor) ProductCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.products
}

// ProcessDirectory runs the pipeline over every XML file in the input folder.
func (p *Processor) ProcessDirectory(mode, user string) (*internal.ProcessingSummary, error) {
	pattern := filepath.Join(p.settings.Paths.InputDir, "*.xml")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("list input folder: %w", err)
	}
	sort.Strings(paths)
	return p.ProcessFiles(paths, mode, user)
}

// ProcessFiles parses, matches and generates for the given invoice files.
func (p *Processor) ProcessFiles(paths []string, mode, user string) (*internal.ProcessingSummary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	runID := time.Now().UTC().Format("20060102T150405")
	logger := p.logger.With().Str("run_id", runID).Logger()
	logger.Info().Int("files", len(paths)).Str("mode", mode).Msg("starting run")

	invoices := ParseMany(paths, logger)
	items := make([]internal.NFEItem, 0)
	for _, invoice := range invoices {
		items = append(items, invoice.Items...)
	}

	matched, unmatched := p.matcher.MatchItems(items)
	csvPath, pendingsPath, rows, err := p.generator.Generate(matched, unmatched, runID)
	if err != nil {
		return nil, err
	}

	summary := &internal.ProcessingSummary{
		RunID:        runID,
		CreatedAt:    time.Now().UTC(),
		Invoices:     invoices,
		Matched:      matched,
		Unmatched:    unmatched,
		CSVPath:      csvPath,
		PendingsPath: pendingsPath,
		Mode:         mode,
		User:         user,
	}

	if err := p.persistRun(summary); err != nil {
		logger.Warn().Err(err).Msg("could not persist run log")
	}
	if err := p.updateMetrics(runID, rows); err != nil {
		logger.Warn().Err(err).Msg("could not update metrics")
	}
	if err := p.synonyms.Save(); err != nil {
		logger.Warn().Err(err).Msg("could not save synonym cache")
	}

	logger.Info().
		Int("invoices", len(invoices)).
		Int("matched", len(matched)).
		Int("unmatched", len(unmatched)).
		Msg("run finished")
	return summary, nil
}

// ReloadCatalog re-reads the master spreadsheet and swaps the matcher index
// without restarting the process. Returns the new product count.
func (p *Processor) ReloadCatalog() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	products, err := catalog.Load(p.settings.Paths.CatalogFile)
	if err != nil {
		return 0, err
	}
	p.matcher.RefreshProducts(catalog.BuildIndex(products))
	p.products = len(products)
	p.logger.Info().Int("products", len(products)).Msg("catalogue reloaded")
	return len(products), nil
}

// RegisterManualMatch stores a confirmed reconciliation immediately so the
// next run already benefits from it.
func (p *Processor) RegisterManualMatch(sku, code, barcode, description, invoiceKey string, itemNumber int, user string) error {
	if strings.TrimSpace(sku) == "" {
		return fmt.Errorf("manual match requires a SKU")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.synonyms.RegisterManual(sku, code, barcode, description)
	if invoiceKey != "" {
		p.synonyms.RecordManualChoice(invoiceKey, itemNumber, sku, user)
	}
	if err := p.synonyms.Save(); err != nil {
		return fmt.Errorf("save synonym cache: %w", err)
	}
	p.logger.Info().Str("sku", sku).Str("user", user).Msg("manual match registered")
	return nil
}

// ListRuns returns all persisted run records, newest first.
func (p *Processor) ListRuns() ([]RunRecord, error) {
	pattern := filepath.Join(p.settings.Paths.LogDir, "run_*.json")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("list run logs: %w", err)
	}

	records := make([]RunRecord, 0, len(paths))
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var record RunRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].RunID > records[j].RunID })
	return records, nil
}

// LoadRun retrieves one persisted run record by id.
func (p *Processor) LoadRun(runID string) (*RunRecord, error) {
	path := filepath.Join(p.settings.Paths.LogDir, "run_"+runID+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	var record RunRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &record, nil
}

func (p *Processor) persistRun(summary *internal.ProcessingSummary) error {
	record := RunRecord{
		RunID:        summary.RunID,
		CreatedAt:    summary.CreatedAt,
		Mode:         summary.Mode,
		User:         summary.User,
		Invoices:     len(summary.Invoices),
		Matched:      len(summary.Matched),
		Unmatched:    len(summary.Unmatched),
		CSVPath:      summary.CSVPath,
		PendingsPath: summary.PendingsPath,
	}
	for _, invoice := range summary.Invoices {
		record.Items += len(invoice.Items)
		record.PerInvoice = append(record.PerInvoice, RunInvoiceEntry{
			AccessKey:     invoice.AccessKey,
			InvoiceNumber: invoice.InvoiceNumber,
			Supplier:      invoice.SupplierName,
			Items:         len(invoice.Items),
		})
	}

	if err := os.MkdirAll(p.settings.Paths.LogDir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	raw, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run log: %w", err)
	}
	path := filepath.Join(p.settings.Paths.LogDir, "run_"+summary.RunID+".json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write run log: %w", err)
	}
	return nil
}

// updateMetrics appends per-metafield fill counts so coverage of the
// catalogue can be tracked across runs.
func (p *Processor) updateMetrics(runID string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	entry := metricsEntry{RunID: runID, Fields: map[string]metricsField{}}
	for _, colName := range p.generator.outputColumns() {
		if !strings.HasPrefix(colName, "product.metafields.") {
			continue
		}
		field := metricsField{Total: len(rows)}
		for _, row := range rows {
			if strings.TrimSpace(row[colName]) != "" {
				field.NonEmpty++
			}
		}
		entry.Fields[colName] = field
	}

	path := filepath.Join(p.settings.Paths.LogDir, "metrics.json")
	var doc metricsDocument
	if raw, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(raw, &doc)
	}
	doc.Runs = append(doc.Runs, entry)

	if err := os.MkdirAll(p.settings.Paths.LogDir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
