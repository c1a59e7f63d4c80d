package handler

import (
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/promo-engine/internal/domain/code"
)

type generateRequest struct {
	Count      int    `json:"count"`
	Prefix     string `json:"prefix,omitempty"`
	Length     int    `json:"length,omitempty"`
	Shards     int    `json:"shards,omitempty"`
	BatchID    string `json:"batch_id,omitempty"`
	MaxUses    int    `json:"max_uses,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
}

type generateResponse struct {
	BatchID string   `json:"batch_id"`
	Count   int      `json:"count"`
	Codes   []string `json:"codes"`
}

func (h *Handler) generateCodes(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	batch, err := h.issuer.GenerateBulk(r.Context(), r.PathValue("id"), code.GenerateSpec{
		Count:      req.Count,
		Prefix:     req.Prefix,
		Length:     req.Length,
		Shards:     req.Shards,
		BatchID:    req.BatchID,
		MaxUses:    req.MaxUses,
		CustomerID: req.CustomerID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := generateResponse{Count: len(batch), Codes: make([]string, len(batch))}
	if len(batch) > 0 {
		resp.BatchID = batch[0].BatchID
	}
	for i := range batch {
		resp.Codes[i] = batch[i].Code
	}
	writeJSON(w, http.StatusCreated, resp)
}

type assignRequest struct {
	CustomerIDs []string `json:"customer_ids"`
}

type assignResponse struct {
	Assignments []assignmentDTO `json:"assignments"`
}

type assignmentDTO struct {
	Code       string `json:"code"`
	CustomerID string `json:"customer_id"`
}

func (h *Handler) assignCodes(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	assignments, err := h.issuer.AssignToCustomers(r.Context(), r.PathValue("id"), req.CustomerIDs)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := assignResponse{Assignments: make([]assignmentDTO, len(assignments))}
	for i, a := range assignments {
		resp.Assignments[i] = assignmentDTO{Code: a.Code, CustomerID: a.CustomerID}
	}
	writeJSON(w, http.StatusOK, resp)
}

type revokeRequest struct {
	Codes  []string `json:"codes"`
	Reason string   `json:"reason"`
}

func (h *Handler) revokeCodes(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if req.Reason == "" {
		badRequest(w, errors.New("reason required"))
		return
	}

	if err := h.issuer.Revoke(r.Context(), r.PathValue("id"), req.Codes, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked": len(req.Codes)})
}
