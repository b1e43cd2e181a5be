package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/lenscrawl/internal/metrics"
)

// MethodPrefix namespaces every RPC method.
const MethodPrefix = "state_"

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

const maxRequestBytes = 1 << 20

// RPCError is the error member of a response. Handlers return it to pick a
// code; any other error becomes CodeInternalError.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func invalidParams(format string, args ...any) error {
	return &RPCError{Code: CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// handlerFunc decodes its own params. A nil result encodes as JSON null.
type handlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

func (s *Server) rpc(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var req rpcRequest
	dec := json.NewDecoder(body)
	if err := dec.Decode(&req); err != nil {
		writeRPC(w, s.logger, rpcResponse{Error: &RPCError{Code: CodeParseError, Message: "parse error"}})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeRPC(w, s.logger, rpcResponse{ID: req.ID, Error: &RPCError{Code: CodeInvalidRequest, Message: "invalid request"}})
		return
	}

	handler, ok := s.methods[req.Method]
	if !ok {
		metrics.ObserveRPC("unknown", "not_found")
		writeRPC(w, s.logger, rpcResponse{ID: req.ID, Error: &RPCError{Code: CodeMethodNotFound, Message: "method not found: " + req.Method}})
		return
	}

	result, err := handler(r.Context(), req.Params)
	if err != nil {
		var rpcErr *RPCError
		if !errors.As(err, &rpcErr) {
			s.logger.Error("rpc method failed", zap.String("method", req.Method), zap.Error(err))
			rpcErr = &RPCError{Code: CodeInternalError, Message: err.Error()}
		}
		metrics.ObserveRPC(req.Method, "error")
		writeRPC(w, s.logger, rpcResponse{ID: req.ID, Error: rpcErr})
		return
	}
	metrics.ObserveRPC(req.Method, "ok")
	if len(req.ID) == 0 {
		// Notification: no response body.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeRPC(w, s.logger, rpcResponse{ID: req.ID, Result: result})
}

// decodeParams accepts params as an object or as a one-element positional
// array wrapping that object.
func decodeParams(raw json.RawMessage, dst any) error {
	raw, err := unwrapPositional(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return invalidParams("invalid params: %v", err)
	}
	return nil
}

// decodeArg reads a single named argument given either positionally,
// ["value"], or by name, {"name": "value"}.
func decodeArg(raw json.RawMessage, name string, dst any) error {
	raw, err := unwrapPositional(raw)
	if err != nil {
		return err
	}
	if raw[0] == '{' {
		var named map[string]json.RawMessage
		if err := json.Unmarshal(raw, &named); err != nil {
			return invalidParams("invalid params: %v", err)
		}
		v, ok := named[name]
		if !ok {
			return invalidParams("missing param %q", name)
		}
		raw = v
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return invalidParams("invalid param %q: %v", name, err)
	}
	return nil
}

func unwrapPositional(raw json.RawMessage) (json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, invalidParams("missing params")
	}
	if raw[0] != '[' {
		return raw, nil
	}
	var positional []json.RawMessage
	if err := json.Unmarshal(raw, &positional); err != nil || len(positional) != 1 {
		return nil, invalidParams("expected one positional param")
	}
	out := bytes.TrimSpace(positional[0])
	if len(out) == 0 {
		return nil, invalidParams("missing params")
	}
	return out, nil
}

func writeRPC(w http.ResponseWriter, logger *zap.Logger, resp rpcResponse) {
	resp.JSONRPC = "2.0"
	if len(resp.ID) == 0 {
		resp.ID = json.RawMessage("null")
	}
	if resp.Error == nil && resp.Result == nil {
		resp.Result = json.RawMessage("null")
	}
	writeJSON(w, logger, http.StatusOK, resp)
}
