package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowpbx/dialer/internal/config"
	"github.com/flowpbx/dialer/internal/esl"
	"github.com/flowpbx/dialer/internal/metrics"
	"github.com/flowpbx/dialer/internal/orchestrator"
	"github.com/flowpbx/dialer/internal/recording"
	"github.com/flowpbx/dialer/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting dialer",
		"esl_host", cfg.ESLHost,
		"esl_port", cfg.ESLPort,
		"gateway", cfg.DialerGateway,
		"data_dir", cfg.DataDir,
	)

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	callRepo := store.NewCallRepository(db)
	recordingRepo := store.NewRecordingRepository(db)

	client, err := esl.Connect(appCtx, cfg.ESLHost, cfg.ESLPort, cfg.ESLPassword, cfg.ConnectTimeout, logger)
	if err != nil {
		slog.Error("failed to connect to freeswitch esl", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	if err := client.SubscribeEvents(appCtx, "all"); err != nil {
		slog.Error("failed to subscribe to esl events", "error", err)
		os.Exit(1)
	}

	recorder := recording.NewManager(client, recordingRepo, cfg.RecordingDirectory, cfg.RecordingBaseURLTrimmed(), logger)

	collector := metrics.NewCollector(nil, nil, nil, recorder, time.Now())
	prometheus.MustRegister(collector)

	orch := orchestrator.New(client, orchestrator.Config{
		Gateway:             cfg.DialerGateway,
		DIDNumber:           cfg.DialerDIDNum,
		ConnectTimeout:      cfg.ConnectTimeout,
		AgentAnswerTimeout:  cfg.AgentAnswerTimeout,
		LeadAnswerTimeout:   cfg.LeadAnswerTimeout,
		EarlyMediaConfirmMS: cfg.EarlyMediaConfirmMS,
		OriginateRate:       cfg.OriginateRate,
		OriginateBurst:      cfg.OriginateBurst,
	}, recorder, collector, logger)

	collector.BindProviders(orch, orch, orch)

	orch.OnLifecycleEvent(func(ev orchestrator.LifecycleEvent) {
		call := orch.GetCall(ev.CallID)
		if call == nil {
			return
		}
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := callRepo.Save(saveCtx, call); err != nil {
			slog.Error("failed to persist call", "call_id", ev.CallID, "error", err)
		}
	})

	recording.StartCleanupTicker(appCtx, recordingRepo, time.Duration(cfg.RecordingMaxDays)*24*time.Hour, 1*time.Hour)

	mux := chi.NewRouter()
	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !orch.Connected() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintln(w, "esl disconnected")
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("/metrics", promhttp.Handler())

	opsSrv := &http.Server{
		Addr:         cfg.OpsHTTPAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("ops http server listening", "addr", cfg.OpsHTTPAddr)
		if err := opsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("ops http server error", "error", err)
	case <-client.Done():
		slog.Error("esl connection lost", "error", client.Err())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := opsSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("ops http server shutdown error", "error", err)
	}

	appCancel()
	slog.Info("dialer stopped")
}
