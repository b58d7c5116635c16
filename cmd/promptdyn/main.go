// cmd/promptdyn/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/icl-lab/promptdyn/internal/chart"
	"github.com/icl-lab/promptdyn/internal/dynamics"
	"github.com/icl-lab/promptdyn/internal/encode"
	"github.com/icl-lab/promptdyn/internal/monitoring"
	"github.com/icl-lab/promptdyn/internal/optimize"
	"github.com/icl-lab/promptdyn/internal/storage"
	"github.com/icl-lab/promptdyn/pkg/api"
)

type Config struct {
	System   SystemConfig            `yaml:"system"`
	Dynamics dynamics.Config         `yaml:"dynamics"`
	Analysis dynamics.AnalysisParams `yaml:"analysis"`
	Encoder  encode.Config           `yaml:"encoder"`
	Optimize OptimizeConfig          `yaml:"optimize"`
	Storage  storage.Config          `yaml:"storage"`
	API      api.Config              `yaml:"api"`
	Logging  LoggingConfig           `yaml:"logging"`
}

type SystemConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Debug   bool   `yaml:"debug"`
}

type OptimizeConfig struct {
	MaxSteps int `yaml:"max_steps"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

var (
	configFile = flag.String("config", "config/default.yaml", "Configuration file path")
	mode       = flag.String("mode", "serve", "Run mode: serve, analyze or optimize")
	prompt     = flag.String("prompt", "", "Prompt text (analyze/optimize modes)")
	task       = flag.String("task", "", "Task text (analyze/optimize modes)")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
)

func main() {
	flag.Parse()

	// .env is optional; flags and config win over it
	_ = godotenv.Load()

	setupLogger()

	config, err := loadConfig(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().
		Str("name", config.System.Name).
		Str("version", config.System.Version).
		Str("mode", *mode).
		Msg("Starting promptdyn")

	store, err := storage.Open(config.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer store.Close()

	components := api.Components{
		Encoder:          encode.New(config.Encoder),
		Store:            store,
		Metrics:          monitoring.NewCollector(prometheus.DefaultRegisterer),
		Dynamics:         config.Dynamics,
		Analysis:         config.Analysis,
		MaxOptimizeSteps: config.Optimize.MaxSteps,
	}

	switch *mode {
	case "serve":
		runServe(config, components)
	case "analyze":
		runAnalyze(components, *prompt, *task)
	case "optimize":
		runOptimize(config, components, *prompt, *task)
	default:
		log.Fatal().Str("mode", *mode).Msg("Unknown mode")
	}
}

func setupLogger() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	})
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func validateConfig(config *Config) error {
	if config.Encoder.InputDim <= 0 || config.Encoder.OutputDim <= 0 {
		return fmt.Errorf("encoder dimensions must be positive")
	}
	if config.Dynamics.LearningRate <= 0 {
		return fmt.Errorf("dynamics learning_rate must be positive")
	}
	if config.Analysis.MaxIterations <= 0 {
		return fmt.Errorf("analysis max_iterations must be positive")
	}
	if config.Optimize.MaxSteps <= 0 {
		return fmt.Errorf("optimize max_steps must be positive")
	}
	return nil
}

func runServe(config *Config, components api.Components) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := api.NewStreamHub(config.API.MaxStreamConns)
	server := api.NewServer(config.API, components, prometheus.DefaultGatherer, hub)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error { return hub.Start(config.API.StreamAddr) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown failed")
		}
		if err := hub.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Stream server shutdown failed")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
	log.Info().Msg("Shutdown complete")
}

func runAnalyze(components api.Components, promptText, taskText string) {
	if promptText == "" || taskText == "" {
		log.Fatal().Msg("analyze mode requires -prompt and -task")
	}

	eng, err := dynamics.NewEngine(
		components.Encoder.InputDim(), components.Encoder.OutputDim(), components.Dynamics)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build engine")
	}

	start := time.Now()
	analyzer := dynamics.NewDeepAnalyzer(eng)
	analysis, err := analyzer.Run(
		components.Encoder.EncodePrompt(promptText),
		components.Encoder.EncodeTask(taskText),
		components.Analysis,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Analysis failed")
	}
	components.Metrics.ObserveAnalysis(analysis, time.Since(start))

	rec, err := components.Store.SavePrompt("", promptText, taskText)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to save prompt")
	}
	if _, err := components.Store.SaveAnalysis(rec.ID, analysis); err != nil {
		log.Fatal().Err(err).Msg("Failed to save analysis")
	}

	chart.WriteAnalysis(os.Stdout, analysis)
	log.Info().Str("prompt_id", rec.ID).Msg("Analysis saved")
}

func runOptimize(config *Config, components api.Components, promptText, taskText string) {
	if promptText == "" || taskText == "" {
		log.Fatal().Msg("optimize mode requires -prompt and -task")
	}

	maxSteps := config.Optimize.MaxSteps
	bar := progressbar.NewOptions(maxSteps,
		progressbar.OptionSetDescription("optimizing"),
		progressbar.OptionSetWriter(os.Stderr),
	)

	scorer := optimize.NewDynamicsScorer(components.Encoder, components.Dynamics)
	opt := optimize.New(scorer, components.Encoder, components.Dynamics)
	opt.OnStep = func(optimize.Step) { _ = bar.Add(1) }

	history, err := opt.Run(promptText, taskText, maxSteps)
	if err != nil {
		log.Fatal().Err(err).Msg("Optimization failed")
	}
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)
	components.Metrics.ObserveOptimization(len(history.Steps))

	initial, err := components.Store.SavePrompt("", promptText, taskText)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to save prompt")
	}
	final, err := components.Store.SavePrompt(initial.ID, history.FinalPrompt(), taskText)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to save optimized prompt")
	}

	chart.WriteHistory(os.Stdout, history)
	fmt.Printf("final prompt (%s):\n%s\n", final.ID, final.Body)
}
