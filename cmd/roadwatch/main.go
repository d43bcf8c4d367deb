package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"roadwatch/internal/config"
	"roadwatch/internal/detect"
	"roadwatch/internal/dispatch"
	"roadwatch/internal/media"
	"roadwatch/internal/pipeline"
	"roadwatch/internal/sampler"
	"roadwatch/internal/store"
	"roadwatch/internal/ws"
)

func main() {
	var (
		httpAddrF = flag.String("http-addr", "", "HTTP listen address (overrides HTTP_ADDR)")
		dbPathF   = flag.String("db", "", "SQLite database path (overrides DB_PATH)")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[roadwatch] ", log.Ltime)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("invalid configuration: %s", err)
	}
	if *httpAddrF != "" {
		cfg.HTTPAddr = *httpAddrF
	}
	if *dbPathF != "" {
		cfg.DBPath = *dbPathF
	}

	// Persistence
	db, err := store.New(cfg.DBPath)
	if err != nil {
		logger.Fatalf("failed to open database: %s", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		logger.Fatalf("failed to migrate database: %s", err)
	}

	// Inference capability clients
	validator, err := detect.NewValidator(cfg.PlateRuleset)
	if err != nil {
		logger.Fatalf("invalid plate ruleset: %s", err)
	}
	detector := detect.NewVehicleDetector(cfg.DetectorEndpoint, cfg.DetectionMinConfidence)
	recognizer := detect.NewPlateRecognizer(cfg.OCREndpoint, cfg.PlateMinConfidence, validator)

	// Status fan-out
	events := pipeline.NewEventBus()
	defer events.Close()
	hub := ws.NewStatusHub()
	unsubscribe := events.Subscribe(hub)
	defer unsubscribe()

	orchestrator := pipeline.NewOrchestrator(
		db,
		sampler.New(cfg.SampleFPS),
		detector,
		recognizer,
		events,
		pipeline.Options{
			FailureRatio:   cfg.FrameFailureRatio,
			ScanWholeFrame: cfg.ScanWholeFrame,
			Cropper:        detect.CropRegion,
			Thumbnail:      media.WriteThumbnail,
		},
	)

	// Job broker and worker pool
	broker, err := dispatch.NewEmbedded(dispatch.ServerConfig{Port: cfg.NATSPort})
	if err != nil {
		logger.Fatalf("failed to start broker: %s", err)
	}
	defer broker.Shutdown()

	dispatcher := dispatch.NewDispatcher(broker.Conn(), orchestrator)
	if err := dispatcher.Start(cfg.WorkerCount); err != nil {
		logger.Fatalf("failed to start dispatcher: %s", err)
	}
	defer dispatcher.Close()

	// Pick up jobs stranded by a previous crash
	{
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if _, err := dispatcher.RequeuePending(ctx, db); err != nil {
			logger.Printf("requeue of pending incidents failed: %s", err)
		}
		cancel()
	}

	// HTTP surface: metrics, liveness, status feed
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("/ws/status", ws.NewHandler(hub))
	mux.Handle("/ws/status/", ws.NewHandler(hub))

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop.
	errc := make(chan error)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	go func() {
		logger.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		errc <- srv.ListenAndServe()
	}()

	logger.Printf("processing workers: %d, broker: %s", cfg.WorkerCount, broker.Address())
	logger.Printf("exiting (%v)", <-errc)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)

	logger.Println("exited")
}
