// Package api provides the HTTP REST API server for backtrail.
//
// It exposes endpoints for running backtests, listing stored results,
// and browsing the indicator library, plus Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/seenimoa/backtrail/internal/config"
	"github.com/seenimoa/backtrail/internal/engine"
	"github.com/seenimoa/backtrail/internal/feed"
	"github.com/seenimoa/backtrail/internal/indicator"
	"github.com/seenimoa/backtrail/internal/store"
	"github.com/seenimoa/backtrail/internal/strategy"
	"github.com/seenimoa/backtrail/pkg/logging"
	"github.com/seenimoa/backtrail/pkg/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server is the HTTP API server.
type Server struct {
	router chi.Router
	cfg    *config.Config
	store  *store.Store // nil disables persistence endpoints
	reg    *indicator.Registry
	log    zerolog.Logger
}

// NewServer creates a configured API server with all routes and
// middleware. store may be nil, in which case results are not persisted
// and the /results endpoints report 503.
func NewServer(cfg *config.Config, st *store.Store) *Server {
	srv := &Server{
		cfg:   cfg,
		store: st,
		reg:   indicator.Default(),
		log:   logging.GetLogger("api"),
	}
	srv.router = srv.buildRouter()
	return srv
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ListenAndServe starts the HTTP server with graceful shutdown.
func (s *Server) ListenAndServe(addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("API server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-done:
	}
	s.log.Info().Msg("shutting down API server")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(ctx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	origins := []string{"*"}
	if len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/backtest", s.handleBacktest)

		r.Get("/results", s.handleListResults)
		r.Get("/results/{id}", s.handleGetResult)
		r.Delete("/results/{id}", s.handleDeleteResult)

		r.Get("/indicators", s.handleIndicators)
		r.Get("/strategies", s.handleStrategies)
	})

	return r
}

// ════════════════════════════════════════════════════════════════════
// Request / Response Types
// ════════════════════════════════════════════════════════════════════

// APIResponse is the standard envelope for all endpoints.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BacktestRequest is the body for POST /api/v1/backtest. Exactly one of
// Strategy (an inline strategy tree) or Builtin (a catalog name) must
// be set. Symbols names the data files to load; when empty the
// strategy's own universe is used against the whole data directory.
type BacktestRequest struct {
	Strategy   jsoniter.RawMessage `json:"strategy,omitempty"`
	Builtin    string              `json:"builtin,omitempty"`
	Symbols    []string            `json:"symbols,omitempty"`
	Capital    float64             `json:"capital,omitempty"`
	Parameters map[string]float64  `json:"parameters,omitempty"`
	Save       bool                `json:"save,omitempty"`
}

// BacktestResponse wraps a run result with its stored id when saved.
type BacktestResponse struct {
	RunID  int64 `json:"run_id,omitempty"`
	Result any   `json:"result"`
}

// IndicatorInfo describes one registry entry for GET /api/v1/indicators.
type IndicatorInfo struct {
	Name       string   `json:"name"`
	Params     []string `json:"params,omitempty"`
	Components []string `json:"components,omitempty"`
}

// ════════════════════════════════════════════════════════════════════
// Handlers
// ════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]any{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	strat, err := s.resolveStrategy(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := s.loadData(&req, strat)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := engine.FromSettings(s.cfg.Engine)
	if req.Capital > 0 {
		cfg.InitialCapital = req.Capital
	}
	ctx := r.Context()
	cfg.CancelCheck = func() bool { return ctx.Err() != nil }

	eng, err := engine.NewEngine(cfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := BacktestResponse{}
	if len(data) == 1 {
		var symbol string
		for sym := range data {
			symbol = sym
		}
		result, err := eng.Run(strat, symbol, data[symbol], req.Parameters)
		if err != nil {
			writeRunError(w, err)
			return
		}
		resp.Result = result
		if req.Save && s.store != nil {
			resp.RunID, err = s.store.SaveResult(result)
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	} else {
		result, err := eng.RunPortfolio(strat, data, req.Parameters)
		if err != nil {
			writeRunError(w, err)
			return
		}
		resp.Result = result
		if req.Save && s.store != nil {
			resp.RunID, err = s.store.SavePortfolioResult(result)
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: resp})
}

// resolveStrategy picks the inline tree or the builtin catalog entry.
func (s *Server) resolveStrategy(req *BacktestRequest) (*models.Strategy, error) {
	switch {
	case len(req.Strategy) > 0 && req.Builtin != "":
		return nil, fmt.Errorf("strategy and builtin are mutually exclusive")
	case len(req.Strategy) > 0:
		return strategy.Parse(req.Strategy)
	case req.Builtin != "":
		strat, ok := strategy.Builtin(req.Builtin, req.Symbols...)
		if !ok {
			return nil, fmt.Errorf("unknown builtin strategy %q (have %v)", req.Builtin, strategy.BuiltinNames())
		}
		return strat, nil
	default:
		return nil, fmt.Errorf("strategy or builtin is required")
	}
}

// loadData loads bar data for the requested symbols from the data
// directory, or for the whole directory when no symbols are named.
func (s *Server) loadData(req *BacktestRequest, strat *models.Strategy) (map[string][]models.Bar, error) {
	symbols := req.Symbols
	if len(symbols) == 0 && strat.Universe != nil && strat.Universe.Type == models.UniverseStatic {
		symbols = strat.Universe.Symbols
	}

	if len(symbols) == 0 {
		return feed.LoadDir(s.cfg.Data.Dir)
	}

	data := make(map[string][]models.Bar, len(symbols))
	for _, sym := range symbols {
		bars, err := feed.LoadFile(sym, filepath.Join(s.cfg.Data.Dir, sym+".csv"))
		if err != nil {
			return nil, fmt.Errorf("no data for %s: %v", sym, err)
		}
		data[sym] = bars
	}
	return data, nil
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "result store not configured")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: runs})
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "result store not configured")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	kind, err := s.store.Kind(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var result any
	if kind == store.KindPortfolio {
		result, err = s.store.GetPortfolioResult(id)
	} else {
		result, err = s.store.GetResult(id)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: result})
}

func (s *Server) handleDeleteResult(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "result store not configured")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	if err := s.store.Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true})
}

func (s *Server) handleIndicators(w http.ResponseWriter, r *http.Request) {
	names := s.reg.Names()
	out := make([]IndicatorInfo, 0, len(names))
	for _, name := range names {
		def, _ := s.reg.Lookup(name)
		info := IndicatorInfo{Name: def.Name, Components: def.Components}
		for _, p := range def.Params {
			info.Params = append(info.Params, p.Name)
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: out})
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: strategy.BuiltinNames()})
}

// writeRunError maps engine error categories onto HTTP statuses:
// caller mistakes are 400s, engine faults are 500s.
func writeRunError(w http.ResponseWriter, err error) {
	var verr *models.ValidationError
	var perr *models.ParameterError
	var derr *models.DataError
	switch {
	case errors.As(err, &verr), errors.As(err, &perr), errors.As(err, &derr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrCanceled):
		writeError(w, http.StatusRequestTimeout, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := logging.GetLogger("api")
		logger.Error().Err(err).Msg("failed to write JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{Success: false, Error: msg})
}
