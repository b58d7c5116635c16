// pkg/api/server.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"golang.org/x/sync/semaphore"

	"github.com/icl-lab/promptdyn/internal/dynamics"
	"github.com/icl-lab/promptdyn/internal/encode"
	"github.com/icl-lab/promptdyn/internal/monitoring"
	"github.com/icl-lab/promptdyn/internal/optimize"
	"github.com/icl-lab/promptdyn/internal/storage"
)

// Config - listen addresses and concurrency limits for the API surface.
type Config struct {
	Addr           string `yaml:"addr"`
	StreamAddr     string `yaml:"stream_addr"`
	MaxConcurrent  int    `yaml:"max_concurrent"`
	MaxStreamConns int    `yaml:"max_stream_conns"`
}

// Components - everything the handlers need, wired up by the caller.
type Components struct {
	Encoder          *encode.Encoder
	Store            *storage.Store
	Metrics          *monitoring.Collector
	Dynamics         dynamics.Config
	Analysis         dynamics.AnalysisParams
	MaxOptimizeSteps int
}

// Server - fasthttp front end for analyses and optimization runs.
type Server struct {
	cfg  Config
	comp Components
	sem  *semaphore.Weighted
	hub  *StreamHub

	srv            *fasthttp.Server
	metricsHandler fasthttp.RequestHandler
}

func NewServer(cfg Config, comp Components, gatherer prometheus.Gatherer, hub *StreamHub) *Server {
	maxConc := cfg.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 4
	}
	return &Server{
		cfg:  cfg,
		comp: comp,
		sem:  semaphore.NewWeighted(int64(maxConc)),
		hub:  hub,
		metricsHandler: fasthttpadaptor.NewFastHTTPHandler(
			promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		),
	}
}

// Start - serves until Shutdown.
func (s *Server) Start() error {
	s.srv = &fasthttp.Server{
		Handler: s.route,
		Name:    "promptdyn",
	}
	log.Info().Str("addr", s.cfg.Addr).Msg("API server listening")
	return s.srv.ListenAndServe(s.cfg.Addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.ShutdownWithContext(ctx)
}

func (s *Server) route(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	switch {
	case path == "/healthz":
		s.respondJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
	case path == "/metrics":
		s.metricsHandler(ctx)
	case path == "/api/v1/analyze" && ctx.IsPost():
		s.handleAnalyze(ctx)
	case path == "/api/v1/optimize" && ctx.IsPost():
		s.handleOptimize(ctx)
	case strings.HasPrefix(path, "/api/v1/prompts/") && ctx.IsGet():
		s.handlePrompt(ctx, strings.TrimPrefix(path, "/api/v1/prompts/"))
	default:
		s.respondError(ctx, fasthttp.StatusNotFound, "not found")
	}
}

type analyzeResponse struct {
	PromptID string                     `json:"prompt_id"`
	Analysis *dynamics.DetailedAnalysis `json:"analysis"`
}

func (s *Server) handleAnalyze(ctx *fasthttp.RequestCtx) {
	body := ctx.PostBody()
	prompt := gjson.GetBytes(body, "prompt").String()
	task := gjson.GetBytes(body, "task").String()
	if prompt == "" || task == "" {
		s.respondError(ctx, fasthttp.StatusBadRequest, "prompt and task are required")
		return
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.respondError(ctx, fasthttp.StatusServiceUnavailable, "request canceled")
		return
	}
	defer s.sem.Release(1)

	eng, err := dynamics.NewEngine(s.comp.Encoder.InputDim(), s.comp.Encoder.OutputDim(), s.comp.Dynamics)
	if err != nil {
		s.respondError(ctx, fasthttp.StatusInternalServerError, err.Error())
		return
	}

	start := time.Now()
	analyzer := dynamics.NewDeepAnalyzer(eng)
	analysis, err := analyzer.Run(
		s.comp.Encoder.EncodePrompt(prompt),
		s.comp.Encoder.EncodeTask(task),
		s.comp.Analysis,
	)
	if err != nil {
		var dimErr *dynamics.InvalidDimensionsError
		if errors.As(err, &dimErr) {
			s.respondError(ctx, fasthttp.StatusUnprocessableEntity, err.Error())
			return
		}
		s.respondError(ctx, fasthttp.StatusInternalServerError, err.Error())
		return
	}
	s.comp.Metrics.ObserveAnalysis(analysis, time.Since(start))
	s.comp.Metrics.SetLearningRate(analyzer.Engine().Config().LearningRate)

	rec, err := s.comp.Store.SavePrompt("", prompt, task)
	if err != nil {
		s.respondError(ctx, fasthttp.StatusInternalServerError, err.Error())
		return
	}
	if _, err := s.comp.Store.SaveAnalysis(rec.ID, analysis); err != nil {
		s.respondError(ctx, fasthttp.StatusInternalServerError, err.Error())
		return
	}

	log.Info().
		Str("prompt_id", rec.ID).
		Bool("converged", analysis.Converged).
		Str("type", string(analysis.ConvergenceType)).
		Msg("Analysis complete")
	s.respondJSON(ctx, fasthttp.StatusOK, analyzeResponse{PromptID: rec.ID, Analysis: analysis})
}

type optimizeResponse struct {
	InitialPromptID string            `json:"initial_prompt_id"`
	FinalPromptID   string            `json:"final_prompt_id"`
	History         *optimize.History `json:"history"`
}

func (s *Server) handleOptimize(ctx *fasthttp.RequestCtx) {
	body := ctx.PostBody()
	prompt := gjson.GetBytes(body, "prompt").String()
	task := gjson.GetBytes(body, "task").String()
	if prompt == "" || task == "" {
		s.respondError(ctx, fasthttp.StatusBadRequest, "prompt and task are required")
		return
	}
	maxSteps := int(gjson.GetBytes(body, "max_steps").Int())
	if maxSteps <= 0 {
		maxSteps = s.comp.MaxOptimizeSteps
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.respondError(ctx, fasthttp.StatusServiceUnavailable, "request canceled")
		return
	}
	defer s.sem.Release(1)

	scorer := optimize.NewDynamicsScorer(s.comp.Encoder, s.comp.Dynamics)
	opt := optimize.New(scorer, s.comp.Encoder, s.comp.Dynamics)
	if s.hub != nil {
		opt.OnStep = func(step optimize.Step) { s.hub.Broadcast(step) }
	}

	history, err := opt.Run(prompt, task, maxSteps)
	if err != nil {
		s.respondError(ctx, fasthttp.StatusInternalServerError, err.Error())
		return
	}
	s.comp.Metrics.ObserveOptimization(len(history.Steps))

	initial, err := s.comp.Store.SavePrompt("", prompt, task)
	if err != nil {
		s.respondError(ctx, fasthttp.StatusInternalServerError, err.Error())
		return
	}
	final, err := s.comp.Store.SavePrompt(initial.ID, history.FinalPrompt(), task)
	if err != nil {
		s.respondError(ctx, fasthttp.StatusInternalServerError, err.Error())
		return
	}

	log.Info().
		Str("initial_prompt_id", initial.ID).
		Str("final_prompt_id", final.ID).
		Int("steps", len(history.Steps)).
		Float64("improvement", history.TotalImprovement).
		Msg("Optimization complete")
	s.respondJSON(ctx, fasthttp.StatusOK, optimizeResponse{
		InitialPromptID: initial.ID,
		FinalPromptID:   final.ID,
		History:         history,
	})
}

type promptResponse struct {
	Prompt   *storage.PromptRecord    `json:"prompt"`
	Analyses []storage.AnalysisRollup `json:"analyses"`
}

func (s *Server) handlePrompt(ctx *fasthttp.RequestCtx, id string) {
	rec, err := s.comp.Store.GetPrompt(id)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(ctx, fasthttp.StatusNotFound, "unknown prompt id")
		return
	}
	if err != nil {
		s.respondError(ctx, fasthttp.StatusInternalServerError, err.Error())
		return
	}
	rollups, err := s.comp.Store.Analyses(id)
	if err != nil {
		s.respondError(ctx, fasthttp.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(ctx, fasthttp.StatusOK, promptResponse{Prompt: rec, Analyses: rollups})
}

func (s *Server) respondJSON(ctx *fasthttp.RequestCtx, status int, v interface{}) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	if err := json.NewEncoder(ctx).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) respondError(ctx *fasthttp.RequestCtx, status int, msg string) {
	s.respondJSON(ctx, status, map[string]string{"error": msg})
}
