// Package pipeline contains the invoice-to-spreadsheet flow: parsing NF-e
// XML, matching items against the catalogue and generating the import files.
package pipeline

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"nfeimport/internal"
	"nfeimport/internal/util"
)

// AdditionalInfoKey is the item field holding the free-text infAdProd block.
const AdditionalInfoKey = "infAdProd"

type xmlProd struct {
	CProd    string `xml:"cProd"`
	XProd    string `xml:"xProd"`
	CEAN     string `xml:"cEAN"`
	CEANTrib string `xml:"cEANTrib"`
	NCM      string `xml:"NCM"`
	CEST     string `xml:"CEST"`
	CFOP     string `xml:"CFOP"`
	UCom     string `xml:"uCom"`
	QCom     string `xml:"qCom"`
	VUnCom   string `xml:"vUnCom"`
	VProd    string `xml:"vProd"`
}

type xmlDet struct {
	NItem     string  `xml:"nItem,attr"`
	Prod      xmlProd `xml:"prod"`
	InfAdProd string  `xml:"infAdProd"`
}

type xmlInfNFe struct {
	ID  string `xml:"Id,attr"`
	Ide struct {
		NNF   string `xml:"nNF"`
		DhEmi string `xml:"dhEmi"`
		DEmi  string `xml:"dEmi"`
	} `xml:"ide"`
	Emit struct {
		XNome string `xml:"xNome"`
		CNPJ  string `xml:"CNPJ"`
	} `xml:"emit"`
	Det []xmlDet `xml:"det"`
}

// xmlDocument accepts both a bare NFe document and the authorized nfeProc
// envelope; exactly one of the two infNFe paths is populated.
type xmlDocument struct {
	InfNFe *xmlInfNFe `xml:"infNFe"`
	NFe    struct {
		InfNFe *xmlInfNFe `xml:"infNFe"`
	} `xml:"NFe"`
}

// ParseFile reads one NF-e XML file into an invoice with its line items.
func ParseFile(path string) (internal.InvoiceInfo, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return internal.InvoiceInfo{}, fmt.Errorf("read invoice %s: %w", path, err)
	}

	var doc xmlDocument
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return internal.InvoiceInfo{}, fmt.Errorf("parse invoice %s: %w", path, err)
	}
	inf := doc.InfNFe
	if inf == nil {
		inf = doc.NFe.InfNFe
	}
	if inf == nil {
		return internal.InvoiceInfo{}, fmt.Errorf("invoice %s: missing infNFe element", path)
	}

	accessKey := strings.TrimPrefix(strings.TrimSpace(inf.ID), "NFe")
	if accessKey == "" {
		accessKey = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	invoice := internal.InvoiceInfo{
		AccessKey:     accessKey,
		InvoiceNumber: strings.TrimSpace(inf.Ide.NNF),
		IssueDate:     parseIssueDate(inf.Ide.DhEmi, inf.Ide.DEmi),
		SupplierName:  strings.TrimSpace(inf.Emit.XNome),
		SupplierCNPJ:  util.NormalizeBarcode(inf.Emit.CNPJ),
		FilePath:      path,
	}

	for i, det := range inf.Det {
		item := internal.NFEItem{
			InvoiceKey:  accessKey,
			ItemNumber:  parseIntDefault(det.NItem, i+1),
			Code:        strings.TrimSpace(det.Prod.CProd),
			Description: strings.TrimSpace(det.Prod.XProd),
			Barcode:     pickBarcode(det.Prod.CEAN, det.Prod.CEANTrib),
			NCM:         strings.TrimSpace(det.Prod.NCM),
			CEST:        strings.TrimSpace(det.Prod.CEST),
			CFOP:        strings.TrimSpace(det.Prod.CFOP),
			Unit:        strings.TrimSpace(det.Prod.UCom),
			Quantity:    parseFloatDefault(det.Prod.QCom, 0),
			UnitValue:   parseFloatDefault(det.Prod.VUnCom, 0),
			TotalValue:  parseFloatDefault(det.Prod.VProd, 0),
		}
		if ad := strings.TrimSpace(det.InfAdProd); ad != "" {
			item.Additional = map[string]string{AdditionalInfoKey: ad}
		}
		invoice.Items = append(invoice.Items, item)
	}
	return invoice, nil
}

// ParseMany parses every file, logging and skipping the ones that fail so a
// single corrupt upload does not abort the batch.
func ParseMany(paths []string, logger zerolog.Logger) []internal.InvoiceInfo {
	invoices := make([]internal.InvoiceInfo, 0, len(paths))
	for _, path := range paths {
		invoice, err := ParseFile(path)
		if err != nil {
			logger.Warn().Err(err).Str("file", path).Msg("skipping unreadable invoice")
			continue
		}
		invoices = append(invoices, invoice)
	}
	return invoices
}

// pickBarcode prefers cEAN over cEANTrib and drops the SEM GTIN placeholder.
func pickBarcode(cean, ceanTrib string) string {
	for _, candidate := range []string{cean, ceanTrib} {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" || strings.EqualFold(candidate, "SEM GTIN") {
			continue
		}
		return candidate
	}
	return ""
}

func parseIssueDate(dhEmi, dEmi string) *time.Time {
	if dhEmi = strings.TrimSpace(dhEmi); dhEmi != "" {
		if ts, err := time.Parse(time.RFC3339, dhEmi); err == nil {
			return &ts
		}
	}
	if dEmi = strings.TrimSpace(dEmi); dEmi != "" {
		if ts, err := time.Parse("2006-01-02", dEmi); err == nil {
			return &ts
		}
	}
	return nil
}

func parseIntDefault(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloatDefault(s string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
	if err != nil {
		return fallback
	}
	return f
}
