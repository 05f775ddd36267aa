// Package httpapi is the orderbook HTTP surface of spec.md §6: it accepts
// order submissions and cancellations from peers and the orderbook
// matching algorithm, and streams the Position-Update Broadcast Bus to
// websocket clients. Order matching itself happens outside this package
// (spec.md §1 Non-goals); this surface only persists and removes resting
// orders, the way the orderbook hands a would-be match to internal/intake
// once one is found.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lnperp/coordinator/internal/broadcast"
	"github.com/lnperp/coordinator/internal/domain"
	"github.com/lnperp/coordinator/internal/protocolid"
	"github.com/lnperp/coordinator/internal/settings"
	"github.com/lnperp/coordinator/internal/store"
)

// Server handles the orderbook REST surface and the websocket fan-out of
// position updates, mirroring the teacher's pkg/api.Server split between
// router setup and a separate websocket hub.
type Server struct {
	store  *store.Store
	bus    *broadcast.Bus
	router *mux.Router
	log    *zap.SugaredLogger
}

func NewServer(st *store.Store, bus *broadcast.Bus, log *zap.SugaredLogger) *Server {
	s := &Server{store: st, bus: bus, router: mux.NewRouter(), log: log}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/orderbook/orders", s.handleSubmitOrder).Methods(http.MethodPost)
	s.router.HandleFunc("/api/orderbook/orders/{id}", s.handleCancelOrder).Methods(http.MethodDelete)
	s.router.HandleFunc("/ws/positions", s.handlePositionsWebSocket)
	s.router.HandleFunc("/health", settings.StaticHealthHandler()).Methods(http.MethodGet)
}

// Handler returns the CORS-wrapped router, ready to hand to *http.Server.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	})
	return c.Handler(s.router)
}

// submitOrderRequest matches spec.md §6's literal wire body.
type submitOrderRequest struct {
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	TraderID  string          `json:"trader_id"`
	Direction string          `json:"direction"`
	OrderType string          `json:"order_type"`
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TraderID == "" || req.Quantity.IsZero() || req.Quantity.IsNegative() {
		respondError(w, http.StatusBadRequest, "missing trader_id or invalid quantity")
		return
	}

	dir, ok := parseDirection(req.Direction)
	if !ok {
		respondError(w, http.StatusBadRequest, "direction must be Long or Short")
		return
	}
	ot, ok := parseOrderType(req.OrderType)
	if !ok {
		respondError(w, http.StatusBadRequest, "order_type must be Market or Limit")
		return
	}

	order := domain.Order{
		ID:        protocolid.New().String(),
		Price:     req.Price,
		TraderID:  req.TraderID,
		Direction: dir,
		Quantity:  req.Quantity,
		OrderType: ot,
		CreatedAt: time.Now(),
	}
	if err := s.store.SaveOrder(order); err != nil {
		s.log.Errorw("submit_order_failed", "trader", req.TraderID, "err", err)
		respondError(w, http.StatusInternalServerError, "failed to persist order")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"order_id": order.ID})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	traderID := r.URL.Query().Get("trader_id")
	if id == "" || traderID == "" {
		respondError(w, http.StatusBadRequest, "missing order id or trader_id")
		return
	}
	if err := s.store.DeleteOrder(traderID, id); err != nil {
		s.log.Errorw("cancel_order_failed", "trader", traderID, "order_id", id, "err", err)
		respondError(w, http.StatusInternalServerError, "failed to cancel order")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"order_id": id})
}

func parseDirection(s string) (domain.Direction, bool) {
	switch s {
	case "Long":
		return domain.Long, true
	case "Short":
		return domain.Short, true
	default:
		return 0, false
	}
}

func parseOrderType(s string) (domain.OrderType, bool) {
	switch s {
	case "Market":
		return domain.OrderMarket, true
	case "Limit":
		return domain.OrderLimit, true
	default:
		return 0, false
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
