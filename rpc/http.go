package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bookhold/core"
	"bookhold/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

const (
	codeEscrowInvalidParams = -32021
	codeEscrowNotFound      = -32022
	codeEscrowForbidden     = -32023
	codeEscrowConflict      = -32024
	codeEscrowInternal      = -32025
)

type Server struct {
	node    *core.Node
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
}

func NewServer(node *core.Node, auth *Authenticator, limiter *RateLimiter) *Server {
	return &Server{
		node:    node,
		auth:    auth,
		limiter: limiter,
		logger:  slog.Default(),
	}
}

// Handler returns the full HTTP surface: JSON-RPC on the root path, the
// websocket event stream, and the prometheus scrape endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.HandleFunc("/ws/events", s.handleEventsWS)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", slog.String("addr", addr))
	return http.ListenAndServe(addr, s.Handler())
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	if s.limiter != nil && !s.limiter.Allow(clientID(r)) {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	start := time.Now()
	defer func() {
		observability.Ledger().ObserveRPC(req.Method, time.Since(start))
	}()

	switch req.Method {
	case "escrow_create":
		s.handleEscrowCreate(w, r, req)
	case "escrow_submitEvidence":
		s.handleEscrowSubmitEvidence(w, r, req)
	case "escrow_approve":
		s.handleEscrowApprove(w, r, req)
	case "escrow_reject":
		s.handleEscrowReject(w, r, req)
	case "escrow_claimTimeout":
		s.handleEscrowClaimTimeout(w, r, req)
	case "escrow_reclaimExpired":
		s.handleEscrowReclaimExpired(w, r, req)
	case "escrow_get":
		s.handleEscrowGet(w, r, req)
	case "escrow_disputeWindowEndsAt":
		s.handleEscrowDisputeWindowEndsAt(w, r, req)
	case "escrow_evidenceDeadlineAt":
		s.handleEscrowEvidenceDeadlineAt(w, r, req)
	case "escrow_canClaimTimeout":
		s.handleEscrowCanClaimTimeout(w, r, req)
	case "hold_getBalance":
		s.handleGetBalance(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
	}
}

// requireCaller resolves the authenticated caller behind a mutating method.
func (s *Server) requireCaller(r *http.Request) ([20]byte, *RPCError) {
	if s.auth == nil {
		return [20]byte{}, &RPCError{Code: codeUnauthorized, Message: "authentication not configured"}
	}
	caller, err := s.auth.Caller(r)
	if err != nil {
		return [20]byte{}, &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: err.Error()}
	}
	return caller, nil
}

func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
