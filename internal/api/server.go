// Package api serves a read-only status surface over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"perp_exec/internal/domain"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

const defaultExecutionLimit = 50

// QuoteProvider is the read side of the price feed.
type QuoteProvider interface {
	CurrentQuote() (domain.Quote, error)
	IsConnected() bool
}

// ExecutionLister lists journaled runs.
type ExecutionLister interface {
	RecentExecutions(ctx context.Context, limit int) ([]domain.ExecutionRecord, error)
}

// Server exposes quote, position, journal and metrics endpoints.
type Server struct {
	symbol    string
	quotes    QuoteProvider
	positions domain.PositionReader
	journal   ExecutionLister
	metrics   http.Handler
	router    *mux.Router
	http      *http.Server
	logger    *slog.Logger
}

// NewServer creates the status server listening on addr. journal and metrics may be nil.
func NewServer(addr, symbol string, quotes QuoteProvider, positions domain.PositionReader, journal ExecutionLister, metrics http.Handler) *Server {
	s := &Server{
		symbol:    symbol,
		quotes:    quotes,
		positions: positions,
		journal:   journal,
		metrics:   metrics,
		router:    mux.NewRouter(),
		logger:    slog.Default().With("module", "api"),
	}
	s.setupRoutes()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/quote", s.handleQuote).Methods(http.MethodGet)
	api.HandleFunc("/position", s.handlePosition).Methods(http.MethodGet)
	api.HandleFunc("/executions", s.handleExecutions).Methods(http.MethodGet)

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

// Start serves until Shutdown. It returns nil after a graceful shutdown,
// including one that happened before Start.
func (s *Server) Start() error {
	s.logger.Info("🌐 Status API listening", slog.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type healthResponse struct {
	Status        string `json:"status"`
	Symbol        string `json:"symbol"`
	FeedConnected bool   `json:"feed_connected"`
}

type quoteResponse struct {
	Symbol    string    `json:"symbol"`
	Bid       string    `json:"bid"`
	Ask       string    `json:"ask"`
	Mid       string    `json:"mid"`
	Spread    string    `json:"spread"`
	Timestamp time.Time `json:"timestamp"`
	AgeMs     int64     `json:"age_ms"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, healthResponse{
		Status:        "ok",
		Symbol:        s.symbol,
		FeedConnected: s.quotes.IsConnected(),
	})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q, err := s.quotes.CurrentQuote()
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "quote unavailable", err.Error())
		return
	}
	respondJSON(w, quoteResponse{
		Symbol:    q.Symbol,
		Bid:       q.Bid.String(),
		Ask:       q.Ask.String(),
		Mid:       q.Mid().String(),
		Spread:    q.Spread().String(),
		Timestamp: q.Timestamp,
		AgeMs:     q.Age(time.Now()).Milliseconds(),
	})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	pos, err := s.positions.Get(r.Context(), s.symbol)
	if err != nil {
		respondError(w, http.StatusBadGateway, "position unavailable", err.Error())
		return
	}
	respondJSON(w, pos)
}

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		respondJSON(w, []domain.ExecutionRecord{})
		return
	}

	limit := defaultExecutionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", raw)
			return
		}
		limit = n
	}

	recs, err := s.journal.RecentExecutions(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list executions", slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "journal error", err.Error())
		return
	}
	respondJSON(w, recs)
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error:   error,
		Message: message,
	})
}
