package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"zapbridge/internal/bridge"
	"zapbridge/internal/cache"
	"zapbridge/internal/nwc"
	"zapbridge/internal/types"
)

const (
	transactionsCacheTTL = 30 * time.Second
	balanceTimeout       = 20 * time.Second
)

// server holds the daemon's long-lived collaborators.
type server struct {
	orch  *bridge.Orchestrator
	cache cache.Backend
}

type keysendRequest struct {
	Destination string            `json:"destination"`
	AmountSats  int64             `json:"amount_sats"`
	TLVRecords  []types.TLVRecord `json:"tlv_records,omitempty"`
}

type keysendResponse struct {
	Preimage string `json:"preimage"`
	Relayed  bool   `json:"relayed"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// keysendHandler pays a keysend through the orchestrator.
// POST /api/keysend {"destination": hex, "amount_sats": n, "tlv_records": [...]}
func (s *server) keysendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("POST required"))
		return
	}

	var req keysendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if len(req.Destination) != 66 {
		writeError(w, http.StatusBadRequest, errors.New("destination must be a 66-char node pubkey"))
		return
	}
	if req.AmountSats <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("amount_sats must be positive"))
		return
	}

	wasDirect := s.orch.Capabilities().SupportsKeysend

	result, err := s.orch.PayKeysend(r.Context(), req.Destination, req.AmountSats, req.TLVRecords)
	if err != nil {
		keysendFailedTotal.Add(1)
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, bridge.ErrBridgeUnavailable),
			errors.Is(err, bridge.ErrBridgeRouteUnsupported),
			errors.Is(err, bridge.ErrNotInitialized):
			status = http.StatusServiceUnavailable
		}
		var forwardErr *bridge.ForwardFailedError
		if errors.As(err, &forwardErr) {
			// Funds moved; make the partial failure unmistakable
			slog.Error("keysend forward failed after bridge payment",
				"request_id", requestIDFromContext(r.Context()),
				"destination", req.Destination[:16],
				"error", err)
		}
		writeError(w, status, err)
		return
	}

	if wasDirect {
		keysendDirectTotal.Add(1)
	} else {
		keysendRelayedTotal.Add(1)
	}
	writeJSON(w, http.StatusOK, keysendResponse{Preimage: result.Preimage, Relayed: !wasDirect})
}

// balanceHandler returns the user wallet balance in millisatoshis.
func (s *server) balanceHandler(w http.ResponseWriter, r *http.Request) {
	user := s.orch.UserWallet()
	if user == nil || !user.IsConnected() {
		writeError(w, http.StatusServiceUnavailable, errors.New("user wallet not connected"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), balanceTimeout)
	defer cancel()

	balance, err := user.GetBalance(ctx)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

// capabilitiesHandler returns the orchestrator's diagnostic snapshot.
func (s *server) capabilitiesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Capabilities())
}

// transactionsHandler lists recent wallet transactions, cached briefly so
// a polling UI does not hammer the wallet over the relay.
func (s *server) transactionsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 100 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be 1-100"))
			return
		}
		limit = parsed
	}

	cacheKey := "txs:" + strconv.Itoa(limit)
	if data, found, err := s.cache.Get(r.Context(), cacheKey); err == nil && found {
		cacheHitsTotal.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
		return
	}
	cacheMissesTotal.Add(1)

	user := s.orch.UserWallet()
	if user == nil || !user.IsConnected() {
		writeError(w, http.StatusServiceUnavailable, errors.New("user wallet not connected"))
		return
	}

	result, err := user.ListTransactions(r.Context(), types.TransactionFilter{Limit: limit})
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.cache.Set(r.Context(), cacheKey, data, transactionsCacheTTL); err != nil {
		slog.Debug("failed to cache transactions", "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// lookupHandler queries the state of an invoice.
// GET /api/invoice?invoice=...&payment_hash=...
func (s *server) lookupHandler(w http.ResponseWriter, r *http.Request) {
	invoice := r.URL.Query().Get("invoice")
	paymentHash := r.URL.Query().Get("payment_hash")
	if invoice == "" && paymentHash == "" {
		writeError(w, http.StatusBadRequest, errors.New("invoice or payment_hash required"))
		return
	}

	user := s.orch.UserWallet()
	if user == nil || !user.IsConnected() {
		writeError(w, http.StatusServiceUnavailable, errors.New("user wallet not connected"))
		return
	}

	result, err := user.LookupInvoice(r.Context(), invoice, paymentHash)
	if err != nil {
		if errors.Is(err, nwc.ErrNoResponse) {
			writeError(w, http.StatusGatewayTimeout, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// healthHandler reports liveness plus the wallet connection states.
func (s *server) healthHandler(w http.ResponseWriter, r *http.Request) {
	caps := s.orch.Capabilities()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"ready":           s.orch.State() == bridge.StateReady,
		"wallet":          caps.WalletName,
		"has_bridge":      caps.HasBridge,
		"profile_assumed": caps.ProfileAssumed,
	})
}
