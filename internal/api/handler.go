package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"nfeimport/internal/pipeline"
)

type Handler struct {
	proc   *pipeline.Processor
	logger zerolog.Logger
}

type processRequest struct {
	User string `json:"user"`
}

type processResponse struct {
	RunID        string `json:"run_id"`
	Invoices     int    `json:"invoices"`
	Matched      int    `json:"matched"`
	Unmatched    int    `json:"unmatched"`
	CSVPath      string `json:"csv_path,omitempty"`
	PendingsPath string `json:"pendings_path,omitempty"`
}

type manualMatchRequest struct {
	SKU         string `json:"sku"`
	CProd       string `json:"cprod"`
	Barcode     string `json:"barcode"`
	Description string `json:"description"`
	InvoiceKey  string `json:"invoice_key"`
	ItemNumber  int    `json:"item_number"`
	User        string `json:"user"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if r.Body != nil {
		defer r.Body.Close()
		// an empty body is fine, the user field is optional
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	summary, err := h.proc.ProcessDirectory("api", req.User)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, processResponse{
		RunID:        summary.RunID,
		Invoices:     len(summary.Invoices),
		Matched:      len(summary.Matched),
		Unmatched:    len(summary.Unmatched),
		CSVPath:      summary.CSVPath,
		PendingsPath: summary.PendingsPath,
	})
}

func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.proc.ListRuns()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []pipeline.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *Handler) ShowRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.proc.LoadRun(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) ManualMatch(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req manualMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	err := h.proc.RegisterManualMatch(req.SKU, req.CProd, req.Barcode, req.Description, req.InvoiceKey, req.ItemNumber, req.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	h.logger.Info().Str("sku", req.SKU).Str("user", req.User).Msg("manual match registered")
	writeJSON(w, http.StatusOK, map[string]string{"status": "registered", "sku": req.SKU})
}

func (h *Handler) ReloadCatalog(w http.ResponseWriter, r *http.Request) {
	count, err := h.proc.ReloadCatalog()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"products": count})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
