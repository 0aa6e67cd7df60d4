package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"bookhold/crypto"
	"bookhold/escrow"
)

type escrowCreateParams struct {
	ID          string `json:"id"`
	Beneficiary string `json:"beneficiary"`
	Agent       string `json:"agent"`
	MetaHash    string `json:"metaHash,omitempty"`
	Amount      string `json:"amount"`
}

type escrowIDParams struct {
	ID string `json:"id"`
}

type escrowEvidenceParams struct {
	ID           string `json:"id"`
	EvidenceHash string `json:"evidenceHash"`
}

type escrowRejectParams struct {
	ID         string `json:"id"`
	ReasonHash string `json:"reasonHash"`
}

type balanceParams struct {
	Address string `json:"address"`
}

type escrowJSON struct {
	ID                  string `json:"id"`
	Payer               string `json:"payer"`
	Beneficiary         string `json:"beneficiary"`
	Agent               string `json:"agent"`
	Amount              string `json:"amount"`
	FundedAt            int64  `json:"fundedAt"`
	EvidenceDeadlineSec uint32 `json:"evidenceDeadlineSec"`
	EvidenceSubmittedAt int64  `json:"evidenceSubmittedAt,omitempty"`
	DisputeWindowSec    uint32 `json:"disputeWindowSec"`
	EvidenceHash        string `json:"evidenceHash"`
	MetaHash            string `json:"metaHash"`
	Status              string `json:"status"`
}

func (s *Server) handleEscrowCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, authErr := s.requireCaller(r)
	if authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowCreateParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	beneficiary, err := parseAddressParam(params.Beneficiary, "beneficiary")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	agent, err := parseAddressParam(params.Agent, "agent")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	metaHash, err := parseOptionalHash32(params.MetaHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	esc, err := s.node.EscrowCreate(caller, id, beneficiary, agent, metaHash, amount)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatEscrowJSON(esc))
}

func (s *Server) handleEscrowSubmitEvidence(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, authErr := s.requireCaller(r)
	if authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowEvidenceParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	evidenceHash, err := parseRequiredHash32(params.EvidenceHash, "evidenceHash")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.EscrowSubmitEvidence(caller, id, evidenceHash); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleEscrowApprove(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, authErr := s.requireCaller(r)
	if authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	id, ok := s.decodeIDParam(w, req)
	if !ok {
		return
	}
	if err := s.node.EscrowApprove(caller, id); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleEscrowReject(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, authErr := s.requireCaller(r)
	if authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowRejectParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	reasonHash, err := parseRequiredHash32(params.ReasonHash, "reasonHash")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.EscrowReject(caller, id, reasonHash); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

// handleEscrowClaimTimeout is callable by any authenticated identity; the
// time gate alone authorises the transition.
func (s *Server) handleEscrowClaimTimeout(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if _, authErr := s.requireCaller(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	id, ok := s.decodeIDParam(w, req)
	if !ok {
		return
	}
	if err := s.node.EscrowClaimTimeout(id); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleEscrowReclaimExpired(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, authErr := s.requireCaller(r)
	if authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	id, ok := s.decodeIDParam(w, req)
	if !ok {
		return
	}
	if err := s.node.EscrowReclaimExpired(caller, id); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	id, ok := s.decodeIDParam(w, req)
	if !ok {
		return
	}
	esc, err := s.node.EscrowGet(id)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatEscrowJSON(esc))
}

func (s *Server) handleEscrowDisputeWindowEndsAt(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	id, ok := s.decodeIDParam(w, req)
	if !ok {
		return
	}
	endsAt, err := s.node.EscrowDisputeWindowEndsAt(id)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, endsAt)
}

func (s *Server) handleEscrowEvidenceDeadlineAt(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	id, ok := s.decodeIDParam(w, req)
	if !ok {
		return
	}
	deadline, err := s.node.EscrowEvidenceDeadlineAt(id)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, deadline)
}

func (s *Server) handleEscrowCanClaimTimeout(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	id, ok := s.decodeIDParam(w, req)
	if !ok {
		return
	}
	can, err := s.node.EscrowCanClaimTimeout(id)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, can)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params balanceParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	addr, err := parseAddressParam(params.Address, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.node.Balance(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal_error", err.Error())
		return
	}
	writeResult(w, req.ID, balance.String())
}

func (s *Server) decodeIDParam(w http.ResponseWriter, req *RPCRequest) ([32]byte, bool) {
	var params escrowIDParams
	if !decodeSingleParam(w, req, &params) {
		return [32]byte{}, false
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return [32]byte{}, false
	}
	return id, true
}

func decodeSingleParam(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "exactly one parameter object expected")
		return false
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return false
	}
	return true
}

func parseAddressParam(value, field string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return out, fmt.Errorf("%s required", field)
	}
	decoded, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return out, fmt.Errorf("%s: %w", field, err)
	}
	if decoded.Prefix() != crypto.HoldPrefix {
		return out, fmt.Errorf("%s: unsupported address prefix %q", field, decoded.Prefix())
	}
	copy(out[:], decoded.Bytes())
	return out, nil
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func parseOptionalHash32(value string) ([32]byte, error) {
	var out [32]byte
	if strings.TrimSpace(value) == "" {
		return out, nil
	}
	return parseRequiredHash32(value, "hash")
}

func parseRequiredHash32(value, field string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return out, fmt.Errorf("%s required", field)
	}
	cleaned := strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if len(cleaned) != 64 {
		return out, fmt.Errorf("%s must be 32 bytes", field)
	}
	decoded, err := hex.DecodeString(cleaned)
	if err != nil {
		return out, err
	}
	copy(out[:], decoded)
	return out, nil
}

func parseEscrowID(id string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return out, fmt.Errorf("id required")
	}
	cleaned := strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if len(cleaned) != 64 {
		return out, fmt.Errorf("id must be 32 bytes")
	}
	decoded, err := hex.DecodeString(cleaned)
	if err != nil {
		return out, err
	}
	copy(out[:], decoded)
	return out, nil
}

func formatEscrowID(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}

func formatEscrowJSON(esc *escrow.Escrow) escrowJSON {
	payer := crypto.MustNewAddress(crypto.HoldPrefix, esc.Payer[:]).String()
	beneficiary := crypto.MustNewAddress(crypto.HoldPrefix, esc.Beneficiary[:]).String()
	agent := crypto.MustNewAddress(crypto.HoldPrefix, esc.Agent[:]).String()
	amount := "0"
	if esc.Amount != nil {
		amount = esc.Amount.String()
	}
	return escrowJSON{
		ID:                  formatEscrowID(esc.ID),
		Payer:               payer,
		Beneficiary:         beneficiary,
		Agent:               agent,
		Amount:              amount,
		FundedAt:            esc.FundedAt,
		EvidenceDeadlineSec: esc.EvidenceDeadline,
		EvidenceSubmittedAt: esc.EvidenceSubmittedAt,
		DisputeWindowSec:    esc.DisputeWindow,
		EvidenceHash:        "0x" + hex.EncodeToString(esc.EvidenceHash[:]),
		MetaHash:            "0x" + hex.EncodeToString(esc.MetaHash[:]),
		Status:              esc.Status.String(),
	}
}

func writeEscrowError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeEscrowInternal
	message := "internal_error"
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		status = http.StatusNotFound
		code = codeEscrowNotFound
		message = "not_found"
	case errors.Is(err, escrow.ErrUnauthorized):
		status = http.StatusForbidden
		code = codeEscrowForbidden
		message = "forbidden"
	case errors.Is(err, escrow.ErrZeroValue):
		status = http.StatusBadRequest
		code = codeEscrowInvalidParams
		message = "invalid_params"
	case errors.Is(err, escrow.ErrAlreadyExists),
		errors.Is(err, escrow.ErrInvalidState),
		errors.Is(err, escrow.ErrProofDeadlineMissed),
		errors.Is(err, escrow.ErrProofDeadlineNotReached),
		errors.Is(err, escrow.ErrDisputeWindowOpen),
		errors.Is(err, escrow.ErrDisputeWindowClosed):
		status = http.StatusConflict
		code = codeEscrowConflict
		message = "conflict"
	case errors.Is(err, escrow.ErrTransferFailed):
		status = http.StatusBadGateway
		code = codeEscrowInternal
		message = "transfer_failed"
	}
	writeError(w, status, id, code, message, err.Error())
}
