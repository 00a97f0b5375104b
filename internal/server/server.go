package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ligun0805/bundle-recovery/internal/bundlecore"
	"github.com/ligun0805/bundle-recovery/internal/logger"
	"github.com/ligun0805/bundle-recovery/internal/recovery"
)

const maxBodyBytes = 1 << 20

// HeadReader reports the current chain head for readiness and window checks.
type HeadReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// Server exposes the bundle submission endpoint plus health and metrics.
type Server struct {
	addr          string
	gate          *recovery.Gate
	chain         HeadReader // optional
	privacy       bundlecore.PrivacyHints
	metricsAPIKey string
	logger        logger.Logger
	httpServer    *http.Server
}

// NewServer creates the HTTP server. chain may be nil, in which case /ready
// always succeeds and windows are not checked against the head.
func NewServer(addr string, gate *recovery.Gate, chain HeadReader, privacy *bundlecore.PrivacyHints, metricsAPIKey string, log logger.Logger) *Server {
	p := bundlecore.DefaultPrivacyHints()
	if privacy != nil {
		p = *privacy
	}
	return &Server{
		addr:          addr,
		gate:          gate,
		chain:         chain,
		privacy:       p,
		metricsAPIKey: metricsAPIKey,
		logger:        logger.OrEmpty(log),
	}
}

type bundleRequest struct {
	Txs            []string `json:"txs"`
	TargetBlock    uint64   `json:"targetBlock"`
	MaxBlockNumber uint64   `json:"maxBlockNumber"`
}

func setCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request) {
	setCORS(w.Header())
	switch r.Method {
	case http.MethodOptions:
		writeJSON(w, http.StatusOK, struct{}{})
		return
	case http.MethodPost:
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	b, err := s.decodeBundle(r)
	if err != nil {
		s.logger.Error("POST /bundle: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.logger.Info("POST /bundle: %d txs, blocks [%d,%d], reference %s", len(b.Txs), b.Window.TargetBlock, b.Window.MaxBlock, b.ReferenceHash().Hex())

	sim, ack, err := s.gate.SimulateAndSubmit(r.Context(), b)
	var simErr *bundlecore.SimulationFailedError
	switch {
	case errors.As(err, &simErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": simErr.Result})
	case err != nil:
		s.logger.Error("POST /bundle: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		s.logger.Notice("bundle accepted: %s (gasUsed=%d)", ack.BundleHash, sim.GasUsed)
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func (s *Server) decodeBundle(r *http.Request) (*bundlecore.Bundle, error) {
	var req bundleRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if len(req.Txs) == 0 {
		return nil, &bundlecore.InvalidBundleError{Reason: "txs is empty"}
	}
	txs := make([]*types.Transaction, 0, len(req.Txs))
	for i, raw := range req.Txs {
		tx, err := bundlecore.DecodeRawTx(raw)
		if err != nil {
			return nil, &bundlecore.InvalidBundleError{Reason: fmt.Sprintf("tx %d: %v", i, err)}
		}
		txs = append(txs, tx)
	}
	window := bundlecore.InclusionWindow{TargetBlock: req.TargetBlock, MaxBlock: req.MaxBlockNumber}
	if s.chain != nil {
		if head, err := s.chain.BlockNumber(r.Context()); err == nil {
			if err := window.Validate(head); err != nil {
				return nil, err
			}
		} else {
			s.logger.Debug("head lookup failed, skipping window check: %v", err)
		}
	}
	return bundlecore.BuildBundle(txs, window, &bundlecore.BundleOptions{Privacy: &s.privacy})
}

// metricsAuthMiddleware checks the bearer key when one is configured.
func (s *Server) metricsAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metricsAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}
		if parts[1] != s.metricsAPIKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler returns the routes without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/bundle", s.handleBundle)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if s.chain != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			if _, err := s.chain.BlockNumber(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(fmt.Sprintf("Chain RPC not reachable: %v", err)))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready"))
	})

	mux.Handle("/metrics", s.metricsAuthMiddleware(promhttp.Handler()))
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting bundle server on %s", s.addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("Shutting down bundle server")
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
