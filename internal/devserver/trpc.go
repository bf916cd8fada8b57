package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// maxRequestSize caps request bodies and query inputs.
const maxRequestSize = 1 << 20

// errorCode is a tRPC error code.
type errorCode string

const (
	codeParse            errorCode = "PARSE_ERROR"
	codeBadRequest       errorCode = "BAD_REQUEST"
	codeUnauthorized     errorCode = "UNAUTHORIZED"
	codeForbidden        errorCode = "FORBIDDEN"
	codeNotFound         errorCode = "NOT_FOUND"
	codeMethodNotAllowed errorCode = "METHOD_NOT_SUPPORTED"
	codeConflict         errorCode = "CONFLICT"
	codeInternal         errorCode = "INTERNAL_SERVER_ERROR"
)

func (c errorCode) httpStatus() int {
	switch c {
	case codeParse, codeBadRequest:
		return http.StatusBadRequest
	case codeUnauthorized:
		return http.StatusUnauthorized
	case codeForbidden:
		return http.StatusForbidden
	case codeNotFound:
		return http.StatusNotFound
	case codeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case codeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// rpcCode is the JSON-RPC 2.0 number tRPC pairs with each code.
func (c errorCode) rpcCode() int {
	switch c {
	case codeParse:
		return -32700
	case codeBadRequest:
		return -32600
	case codeUnauthorized:
		return -32001
	case codeForbidden:
		return -32003
	case codeNotFound:
		return -32004
	case codeMethodNotAllowed:
		return -32005
	case codeConflict:
		return -32009
	default:
		return -32603
	}
}

// procError is an error a procedure reports to its caller.
type procError struct {
	Code    errorCode
	Message string
}

func (e *procError) Error() string {
	return string(e.Code) + ": " + e.Message
}

func procErrorf(code errorCode, format string, args ...any) *procError {
	return &procError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// procedureKind decides which HTTP method reaches a procedure.
type procedureKind int

const (
	kindQuery procedureKind = iota
	kindMutation
)

// handlerFunc runs one procedure. input is nil when the caller sent none.
type handlerFunc func(ctx context.Context, r *http.Request, input json.RawMessage) (any, error)

type procedure struct {
	kind   procedureKind
	handle handlerFunc
}

// handleTRPC serves both single calls and comma-joined batches (?batch=1).
func (s *Server) handleTRPC(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	names := strings.Split(r.PathValue("procedures"), ",")
	isBatch := r.URL.Query().Get("batch") == "1"

	if !isBatch && len(names) > 1 {
		writeJSON(ctx, w, errorEnvelope(codeBadRequest, "multiple procedures require batch=1", ""), http.StatusBadRequest)
		return
	}

	inputs, err := readInputs(r, isBatch, len(names))
	if err != nil {
		writeJSON(ctx, w, errorEnvelope(codeParse, err.Error(), ""), http.StatusBadRequest)
		return
	}

	answers := make([]envelope, len(names))
	statuses := make([]int, len(names))
	for i, name := range names {
		answers[i], statuses[i] = s.call(ctx, r, name, inputs[i])
	}

	if !isBatch {
		writeJSON(ctx, w, answers[0], statuses[0])
		return
	}
	writeJSON(ctx, w, answers, batchStatus(statuses))
}

// call runs one procedure and returns its envelope and HTTP status.
func (s *Server) call(ctx context.Context, r *http.Request, name string, input json.RawMessage) (envelope, int) {
	proc, ok := s.procedures[name]
	if !ok {
		return errorEnvelope(codeNotFound, fmt.Sprintf("no procedure found on path %q", name), name), http.StatusNotFound
	}

	wantMethod := http.MethodGet
	if proc.kind == kindMutation {
		wantMethod = http.MethodPost
	}
	if r.Method != wantMethod {
		msg := fmt.Sprintf("unsupported %s request to %s procedure", r.Method, name)
		return errorEnvelope(codeMethodNotAllowed, msg, name), http.StatusMethodNotAllowed
	}

	data, err := proc.handle(ctx, r, input)
	if err != nil {
		var pe *procError
		if !errors.As(err, &pe) {
			slog.ErrorContext(ctx, "procedure failed", "procedure", name, "error", err)
			pe = procErrorf(codeInternal, "internal server error")
		}
		return errorEnvelope(pe.Code, pe.Message, name), pe.Code.httpStatus()
	}
	return resultEnvelope(data), http.StatusOK
}

// readInputs returns one raw input per procedure from the query (GET) or body (POST).
func readInputs(r *http.Request, isBatch bool, n int) ([]json.RawMessage, error) {
	var raw []byte
	if r.Method == http.MethodGet {
		raw = []byte(r.URL.Query().Get("input"))
		if len(raw) > maxRequestSize {
			return nil, errors.New("input too large")
		}
	} else {
		var err error
		raw, err = io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
		if err != nil {
			return nil, fmt.Errorf("reading body: %w", err)
		}
	}

	inputs := make([]json.RawMessage, n)
	if len(raw) == 0 {
		return inputs, nil
	}
	if !isBatch {
		if !json.Valid(raw) {
			return nil, errors.New("input is not valid JSON")
		}
		inputs[0] = raw
		return inputs, nil
	}

	var keyed map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return nil, fmt.Errorf("batch input must be an object keyed by call index: %w", err)
	}
	for i := range inputs {
		inputs[i] = keyed[strconv.Itoa(i)]
	}
	return inputs, nil
}

// batchStatus is the shared status when every call agrees, 207 otherwise.
func batchStatus(statuses []int) int {
	for _, st := range statuses[1:] {
		if st != statuses[0] {
			return http.StatusMultiStatus
		}
	}
	return statuses[0]
}

// decodeInput strictly decodes a procedure input into v.
func decodeInput(input json.RawMessage, v any) error {
	if len(input) == 0 {
		return procErrorf(codeBadRequest, "input is required")
	}
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return procErrorf(codeBadRequest, "invalid input: %v", err)
	}
	return nil
}
