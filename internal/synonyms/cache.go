// Package synonyms persists learned equivalences between invoice-side
// identifiers and catalogue SKUs across runs.
package synonyms

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"nfeimport/internal/util"
)

const (
	tableCode        = "cprod"
	tableBarcode     = "barcode"
	tableDescription = "description"
)

type Decision struct {
	InvoiceKey string `json:"invoice_key"`
	ItemNumber int    `json:"item_number"`
	SKU        string `json:"sku"`
	User       string `json:"user,omitempty"`
	At         string `json:"at,omitempty"`
}

type payload struct {
	Data    map[string]map[string]string `json:"data"`
	History map[string][]Decision        `json:"history"`
}

// Cache maps normalized internal codes, barcodes and descriptions to SKUs.
// Keys are written once per automatic match; only RegisterManual overwrites
// an existing mapping.
type Cache struct {
	path    string
	data    map[string]map[string]string
	history map[string][]Decision
}

// Load reads the cache file when it exists and merges it over an empty
// cache, so repeated runs accumulate knowledge. A missing or unreadable
// file yields an empty cache, never an error at construction.
func Load(path string) *Cache {
	c := &Cache{
		path: path,
		data: map[string]map[string]string{
			tableCode:        {},
			tableBarcode:     {},
			tableDescription: {},
		},
		history: map[string][]Decision{"decisions": {}},
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return c
	}
	var existing payload
	if err := json.Unmarshal(raw, &existing); err != nil {
		return c
	}
	for table, entries := range existing.Data {
		if c.data[table] == nil {
			c.data[table] = map[string]string{}
		}
		for key, sku := range entries {
			c.data[table][key] = sku
		}
	}
	for key, decisions := range existing.History {
		c.history[key] = append(c.history[key], decisions...)
	}
	return c
}

func (c *Cache) LookupByCode(value string) string {
	return c.data[tableCode][util.NormalizeSKU(value)]
}

func (c *Cache) LookupByBarcode(value string) string {
	key := util.NormalizeBarcode(value)
	if key == "" {
		return ""
	}
	return c.data[tableBarcode][key]
}

func (c *Cache) LookupByDescription(value string) string {
	key := util.NormalizeText(value)
	if key == "" {
		return ""
	}
	return c.data[tableDescription][key]
}

// Register stores sku under every non-empty key. Existing entries are kept:
// an automatic match never contradicts earlier knowledge.
func (c *Cache) Register(sku, code, barcode, description string) {
	c.register(sku, code, barcode, description, false)
}

// RegisterManual is the explicit-reconciliation variant; it overwrites.
func (c *Cache) RegisterManual(sku, code, barcode, description string) {
	c.register(sku, code, barcode, description, true)
}

func (c *Cache) register(sku, code, barcode, description string, overwrite bool) {
	normalizedSKU := util.NormalizeSKU(sku)
	if normalizedSKU == "" {
		return
	}
	set := func(table, key string) {
		if key == "" {
			return
		}
		if _, exists := c.data[table][key]; exists && !overwrite {
			return
		}
		c.data[table][key] = normalizedSKU
	}
	set(tableCode, util.NormalizeSKU(code))
	set(tableBarcode, util.NormalizeBarcode(barcode))
	set(tableDescription, util.NormalizeText(description))
}

// RecordManualChoice appends one confirmed reconciliation to the history log.
func (c *Cache) RecordManualChoice(invoiceKey string, itemNumber int, sku, user string) {
	c.history["decisions"] = append(c.history["decisions"], Decision{
		InvoiceKey: invoiceKey,
		ItemNumber: itemNumber,
		SKU:        util.NormalizeSKU(sku),
		User:       user,
		At:         time.Now().UTC().Format(time.RFC3339),
	})
}

// Save writes the cache as one JSON document, via a temp file and rename so
// a crash mid-write leaves the previous state intact.
func (c *Cache) Save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	raw, err := json.MarshalIndent(payload{Data: c.data, History: c.history}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode synonym cache: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".synonyms-*.json")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write synonym cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace synonym cache: %w", err)
	}
	return nil
}
