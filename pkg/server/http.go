package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ipfs/go-cid"
	ucantoServer "github.com/storacha/go-ucanto/server"
	thttp "github.com/storacha/go-ucanto/transport/http"

	"github.com/relves/splitescrow/internal/archive"
	"github.com/relves/splitescrow/internal/storage"
	"github.com/relves/splitescrow/pkg/escrow"
	"github.com/relves/splitescrow/pkg/instruction"
	"github.com/relves/splitescrow/pkg/ledger"
	"github.com/relves/splitescrow/pkg/types"
)

// maxInstructionSize bounds a submitted envelope.
const maxInstructionSize = 64 << 10

// RPCHandler serves ucanto invocations over HTTP.
func RPCHandler(srv ucantoServer.ServerView[ucantoServer.Service]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := thttp.NewRequest(r.Body, r.Header)

		res, err := srv.Request(r.Context(), req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		for name, values := range res.Headers() {
			for _, value := range values {
				w.Header().Add(name, value)
			}
		}

		if res.Status() != 0 {
			w.WriteHeader(res.Status())
		}

		body := res.Body()
		io.Copy(w, body)
		body.Close()
	}
}

// HTTPHandler serves the JSON API over a ledger.
type HTTPHandler struct {
	ledger       *ledger.Ledger
	logger       *slog.Logger
	allowFunding bool
}

// HTTPOption configures an HTTPHandler.
type HTTPOption func(*HTTPHandler)

// WithFunding exposes POST /v1/accounts, which opens funded asset accounts.
func WithFunding(enabled bool) HTTPOption {
	return func(h *HTTPHandler) {
		h.allowFunding = enabled
	}
}

// WithHTTPLogger sets the logger.
func WithHTTPLogger(l *slog.Logger) HTTPOption {
	return func(h *HTTPHandler) {
		h.logger = l
	}
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(l *ledger.Ledger, opts ...HTTPOption) *HTTPHandler {
	h := &HTTPHandler{ledger: l, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds the API routes to mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/instructions", h.HandleSubmit)
	mux.HandleFunc("GET /v1/instructions/{cid}", h.HandleGetInstruction)
	mux.HandleFunc("GET /v1/groups/{id}", h.HandleGetGroup)
	mux.HandleFunc("GET /v1/groups/{id}/members", h.HandleGetMembers)
	mux.HandleFunc("GET /v1/groups/{id}/escrow", h.HandleGetEscrow)
	mux.HandleFunc("GET /v1/groups/{id}/status", h.HandleGetStatus)
	mux.HandleFunc("GET /v1/accounts/{id}", h.HandleGetAccount)
	mux.HandleFunc("GET /v1/receipts/{seq}", h.HandleGetReceipt)
	mux.HandleFunc("GET /v1/journal/checkpoint", h.HandleCheckpoint)
	mux.HandleFunc("GET /v1/journal/export", h.HandleExport)
	mux.HandleFunc("GET /health", h.HandleHealth)
	if h.allowFunding {
		mux.HandleFunc("POST /v1/accounts", h.HandleOpenAccount)
	}
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Receipt *types.Receipt `json:"receipt,omitempty"`
}

// HandleSubmit handles POST /v1/instructions.
// The body is a signed JSON instruction envelope. Executed instructions
// answer with their receipt; a failed execution answers 422 with the receipt.
func (h *HTTPHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxInstructionSize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, ErrCodeInvalidInstruction, err.Error())
		return
	}
	ins, err := instruction.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidInstruction, err.Error())
		return
	}

	rcpt, err := h.ledger.Submit(r.Context(), ins)
	if err != nil {
		code := ledger.ErrorCode(err)
		status := http.StatusUnprocessableEntity
		switch {
		case code == ledger.CodeInternal:
			h.logger.Error("failed to execute instruction", "ability", ins.Ability, "error", err)
			status = http.StatusInternalServerError
		case errors.Is(err, ledger.ErrDuplicateInstruction):
			status = http.StatusConflict
		case ledger.IsRejected(err):
			status = http.StatusBadRequest
		}
		writeJSON(w, status, ErrorResponse{Code: code, Message: err.Error(), Receipt: rcpt})
		return
	}
	writeJSON(w, http.StatusOK, rcpt)
}

// HandleGetInstruction handles GET /v1/instructions/{cid}.
// Returns the archived envelope, addressed by its envelope CID.
func (h *HTTPHandler) HandleGetInstruction(w http.ResponseWriter, r *http.Request) {
	c, err := cid.Decode(r.PathValue("cid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidCID", err.Error())
		return
	}
	data, err := h.ledger.Envelope(r.Context(), c)
	if err != nil {
		h.readError(w, "instruction", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// HandleGetGroup handles GET /v1/groups/{id}.
func (h *HTTPHandler) HandleGetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := h.ledger.Group(r.Context(), r.PathValue("id"))
	if err != nil {
		h.readError(w, "group", err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// HandleGetMembers handles GET /v1/groups/{id}/members.
func (h *HTTPHandler) HandleGetMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.ledger.Members(r.Context(), r.PathValue("id"))
	if err != nil {
		h.readError(w, "group", err)
		return
	}
	if members == nil {
		members = []*types.Member{}
	}
	writeJSON(w, http.StatusOK, members)
}

// HandleGetEscrow handles GET /v1/groups/{id}/escrow.
func (h *HTTPHandler) HandleGetEscrow(w http.ResponseWriter, r *http.Request) {
	e, err := h.ledger.EscrowFor(r.Context(), r.PathValue("id"))
	if err != nil {
		h.readError(w, "escrow", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// HandleGetStatus handles GET /v1/groups/{id}/status.
func (h *HTTPHandler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.ledger.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		h.readError(w, "group", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleGetAccount handles GET /v1/accounts/{id}.
func (h *HTTPHandler) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	a, err := h.ledger.AssetAccount(r.Context(), r.PathValue("id"))
	if err != nil {
		h.readError(w, "account", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// OpenAccountRequest is the body of POST /v1/accounts.
type OpenAccountRequest struct {
	Authority string `json:"authority"`
	Label     string `json:"label"`
	Balance   uint64 `json:"balance"`
}

// HandleOpenAccount handles POST /v1/accounts.
func (h *HTTPHandler) HandleOpenAccount(w http.ResponseWriter, r *http.Request) {
	var req OpenAccountRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxInstructionSize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}
	if req.Label == "" {
		req.Label = "main"
	}
	a, err := h.ledger.OpenAssetAccount(r.Context(), req.Authority, req.Label, req.Balance)
	if err != nil {
		code := ledger.ErrorCode(err)
		status := http.StatusBadRequest
		if code == "AccountExists" {
			status = http.StatusConflict
		}
		writeError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// HandleGetReceipt handles GET /v1/receipts/{seq}.
func (h *HTTPHandler) HandleGetReceipt(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.ParseUint(r.PathValue("seq"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidSequence", err.Error())
		return
	}
	rcpt, err := h.ledger.Receipt(r.Context(), seq)
	if err != nil {
		h.readError(w, "receipt", err)
		return
	}
	writeJSON(w, http.StatusOK, rcpt)
}

// HandleCheckpoint handles GET /v1/journal/checkpoint.
// Returns the signed note of the current journal head.
func (h *HTTPHandler) HandleCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := h.ledger.Checkpoint(r.Context())
	if err != nil {
		h.readError(w, "checkpoint", err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, cp.Note())
}

// HandleExport handles GET /v1/journal/export.
// Returns a CAR holding every archived envelope; the root CID is in the
// X-Root-CID header.
func (h *HTTPHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	data, root, err := h.ledger.ExportCAR(r.Context())
	if err != nil {
		h.readError(w, "export", err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.ipld.car")
	w.Header().Set("X-Root-CID", root)
	w.Write(data)
}

// HandleHealth handles GET /health.
func (h *HTTPHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) readError(w http.ResponseWriter, what string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, archive.ErrNotFound):
		writeError(w, http.StatusNotFound, "NotFound", what+" not found")
	case errors.Is(err, escrow.ErrConstraint):
		writeError(w, http.StatusBadRequest, ledger.ErrorCode(err), err.Error())
	default:
		h.logger.Error("failed to read "+what, "error", err)
		writeError(w, http.StatusInternalServerError, ledger.CodeInternal, "failed to read "+what)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
