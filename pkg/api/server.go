package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/solverforge/settler/pkg/crypto"
	"github.com/solverforge/settler/pkg/order"
	"github.com/solverforge/settler/pkg/settlement"
)

// Server exposes the settlement engine over REST and WebSocket. Solvers
// submit signed batches; anyone can read order state and subscribe to
// the event stream.
type Server struct {
	engine *settlement.Engine
	router *mux.Router
	hub    *Hub
}

func NewServer(engine *settlement.Engine) *Server {
	s := &Server{
		engine: engine,
		router: mux.NewRouter(),
		hub:    NewHub(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Solver submission
	api.HandleFunc("/settlements", s.handleSettle).Methods("POST")
	api.HandleFunc("/swaps", s.handleSwap).Methods("POST")

	// Order state
	api.HandleFunc("/orders/{uid}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/invalidate", s.handleInvalidate).Methods("POST")
	api.HandleFunc("/orders/presign", s.handlePreSign).Methods("POST")

	// WebSocket event stream
	s.router.HandleFunc("/ws", s.handleWebSocket)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the API server
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	log.Printf("[api] server starting on %s", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req SignedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	solver, err := recoverSubmitter(req)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid submission signature", err.Error())
		return
	}

	var payload BatchPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid batch payload", err.Error())
		return
	}
	batch, err := payload.ToBatch()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid batch payload", err.Error())
		return
	}

	if err := s.engine.Settle(solver, batch); err != nil {
		respondError(w, statusForError(err), "settlement rejected", err.Error())
		return
	}

	respondJSON(w, SubmitResponse{Status: "settled", Solver: crypto.EIP55(solver.Bytes())})
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	var req SignedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	solver, err := recoverSubmitter(req)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid submission signature", err.Error())
		return
	}

	var payload SwapPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid swap payload", err.Error())
		return
	}
	swap, err := payload.ToSwap()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid swap payload", err.Error())
		return
	}

	if err := s.engine.Swap(solver, swap); err != nil {
		respondError(w, statusForError(err), "swap rejected", err.Error())
		return
	}

	respondJSON(w, SubmitResponse{Status: "settled", Solver: crypto.EIP55(solver.Bytes())})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	uid, err := order.UIDFromHex(mux.Vars(r)["uid"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order uid", err.Error())
		return
	}

	filled, err := s.engine.Filled(uid)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "ledger read failed", err.Error())
		return
	}
	preSigned, err := s.engine.PreSigned(uid)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "ledger read failed", err.Error())
		return
	}

	owner := uid.Owner()
	respondJSON(w, OrderStatus{
		UID:         uid.Hex(),
		Owner:       crypto.EIP55(owner.Bytes()),
		ValidTo:     uid.ValidTo(),
		Filled:      filled.String(),
		Invalidated: settlement.Invalidated(filled),
		PreSigned:   preSigned,
	})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req InvalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	uid, err := order.UIDFromHex(req.UID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order uid", err.Error())
		return
	}

	// The cancellation message binds the exact UID; recovery proves the
	// caller controls the key, the engine proves they own the order.
	owner, err := recoverMessageSigner(fmt.Sprintf("INVALIDATE:%s", uid.Hex()), req.Signature)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid cancellation signature", err.Error())
		return
	}

	if err := s.engine.Invalidate(owner, uid); err != nil {
		respondError(w, statusForError(err), "invalidation rejected", err.Error())
		return
	}

	respondJSON(w, map[string]string{"status": "invalidated", "uid": uid.Hex()})
}

func (s *Server) handlePreSign(w http.ResponseWriter, r *http.Request) {
	var req PreSignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	uid, err := order.UIDFromHex(req.UID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order uid", err.Error())
		return
	}

	owner, err := recoverMessageSigner(fmt.Sprintf("PRESIGN:%s:%t", uid.Hex(), req.Signed), req.Signature)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid pre-sign signature", err.Error())
		return
	}

	if err := s.engine.SetPreSignature(owner, uid, req.Signed); err != nil {
		respondError(w, statusForError(err), "pre-signature rejected", err.Error())
		return
	}

	respondJSON(w, map[string]string{"status": "ok", "uid": uid.Hex()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Event broadcasting
// ==============================

// The server is an EventSink: committed settlement events are fanned out
// to subscribed WebSocket clients.

func (s *Server) Trade(e settlement.TradeEvent) {
	s.hub.BroadcastToChannel("trades", map[string]string{
		"uid":        e.UID.Hex(),
		"owner":      crypto.EIP55(e.Owner.Bytes()),
		"sellToken":  crypto.EIP55(e.SellToken.Bytes()),
		"buyToken":   crypto.EIP55(e.BuyToken.Bytes()),
		"sellAmount": e.SellAmount.String(),
		"buyAmount":  e.BuyAmount.String(),
		"netFee":     e.NetFee.String(),
	})
}

func (s *Server) Interaction(e settlement.InteractionEvent) {
	s.hub.BroadcastToChannel("interactions", map[string]string{
		"target":   crypto.EIP55(e.Target.Bytes()),
		"value":    e.Value.String(),
		"selector": "0x" + hex.EncodeToString(e.Selector[:]),
	})
}

func (s *Server) Settlement(e settlement.SettlementEvent) {
	s.hub.BroadcastToChannel("settlements", map[string]string{
		"solver": crypto.EIP55(e.Solver.Bytes()),
	})
}

func (s *Server) OrderInvalidated(e settlement.OrderInvalidatedEvent) {
	s.hub.BroadcastToChannel("orders", map[string]string{
		"type":  "invalidated",
		"owner": crypto.EIP55(e.Owner.Bytes()),
		"uid":   e.UID.Hex(),
	})
}

func (s *Server) PreSignature(e settlement.PreSignatureEvent) {
	s.hub.BroadcastToChannel("orders", map[string]string{
		"type":   "presign",
		"owner":  crypto.EIP55(e.Owner.Bytes()),
		"uid":    e.UID.Hex(),
		"signed": fmt.Sprintf("%t", e.Signed),
	})
}

var _ settlement.EventSink = (*Server)(nil)

// ==============================
// Helper Functions
// ==============================

// recoverSubmitter authenticates a signed payload: the signature covers
// keccak256 of the raw payload bytes exactly as submitted.
func recoverSubmitter(req SignedRequest) (common.Address, error) {
	sig, err := decodeSignature(req.Signature)
	if err != nil {
		return common.Address{}, err
	}
	digest := ethcrypto.Keccak256(req.Payload)
	return crypto.RecoverAddress(digest, sig)
}

func recoverMessageSigner(message, signature string) (common.Address, error) {
	sig, err := decodeSignature(signature)
	if err != nil {
		return common.Address{}, err
	}
	digest := ethcrypto.Keccak256([]byte(message))
	return crypto.RecoverAddress(digest, sig)
}

// decodeSignature decodes a hex-encoded signature (with or without 0x prefix)
func decodeSignature(sig string) ([]byte, error) {
	sig = strings.TrimPrefix(sig, "0x")

	sigBytes, err := hex.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %w", err)
	}

	if len(sigBytes) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}

	return sigBytes, nil
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, settlement.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, settlement.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, settlement.ErrReentrantCall):
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
