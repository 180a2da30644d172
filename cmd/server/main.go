package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/chadiek/voxrelay/internal/audio"
	"github.com/chadiek/voxrelay/internal/config"
	"github.com/chadiek/voxrelay/internal/events"
	"github.com/chadiek/voxrelay/internal/pipeline"
	"github.com/chadiek/voxrelay/internal/ports"
	"github.com/chadiek/voxrelay/internal/ports/generate"
	"github.com/chadiek/voxrelay/internal/ports/synthesize"
	"github.com/chadiek/voxrelay/internal/ports/transcribe"
	"github.com/chadiek/voxrelay/internal/ratelimit"
	"github.com/chadiek/voxrelay/internal/session"
	"github.com/chadiek/voxrelay/internal/transportws"
	"github.com/chadiek/voxrelay/internal/vectorstore"
	"github.com/chadiek/voxrelay/internal/verify"
	"github.com/chadiek/voxrelay/internal/wake"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	var vstore *vectorstore.Client
	var knowledge pipeline.KnowledgeSearcher
	if cfg.VectorStoreURL != "" {
		vstore = vectorstore.NewClient(cfg.VectorStoreURL)
		knowledge = vstore
	}

	store := session.NewStore(sessionVectorStore(vstore))
	bus := events.NewBus()
	gate := audio.NewGateWithMinUtteranceBytes(store, cfg.MinUtteranceBytes)

	wakeDetector := wake.NewDetector(wake.Config{
		WakePhrases:      cfg.WakePhrases,
		InterruptPhrases: cfg.InterruptPhrases,
		Sensitivity:      cfg.WakeSensitivity,
		Debounce:         cfg.WakeDebounce,
	})

	verifier := verify.NewMode(cfg.VerifyEnabled, cfg.VerifyMode, cfg.VerifyThreshold, cfg.VerifyEndpoint, cfg.VerifyAPIKey, cfg.VerifyModel)

	limiter := ratelimit.NewLimiter(ratelimit.Config{RPS: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst})

	transcriber := &ports.GuardedTranscriber{
		Guard: ports.NewGuard(limiter, ratelimit.NewBreaker(ratelimit.BreakerConfig{}), "transcribe"),
		Inner: transcribe.NewAssemblyAIAdapter(cfg.AssemblyAIKey),
	}
	generator := &ports.GuardedGenerator{
		Guard: ports.NewGuard(limiter, ratelimit.NewBreaker(ratelimit.BreakerConfig{}), "generate"),
		Inner: generate.NewCerebrasAdapter(cfg.CerebrasKey, cfg.CerebrasModelID),
	}
	synthesizer := &ports.GuardedSynthesizer{
		Guard: ports.NewGuard(limiter, ratelimit.NewBreaker(ratelimit.BreakerConfig{}), "synthesize"),
		Inner: synthesizerFor(cfg),
	}

	engine := pipeline.NewEngine()
	engine.MaxLatency = cfg.MaxLatency
	engine.Store = store
	engine.Bus = bus
	engine.Wake = wakeDetector
	engine.Verifier = verifier
	engine.Context = pipeline.NewContextProvider(store, knowledge)
	engine.Transcriber = transcriber
	engine.Generator = generator
	engine.Synthesizer = synthesizer
	if err := engine.Validate(); err != nil {
		log.Fatalf("engine misconfigured: %v", err)
	}

	go reapStaleSessions(store, cfg.SessionTimeout)

	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	wsHandler := transportws.NewHandler(store, gate, engine, bus)
	e.GET("/session", echo.WrapHandler(wsHandler))

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
	bus.Shutdown()
}

// synthesizerFor picks ElevenLabs when configured, falling back to Deepgram
// — both TTS providers are carried as reference adapters but the engine
// only needs one wired at a time.
func synthesizerFor(cfg config.Config) ports.Synthesizer {
	if cfg.ElevenLabsKey != "" {
		return synthesize.NewElevenLabsAdapter(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID)
	}
	return synthesize.NewDeepgramAdapter(cfg.DeepgramKey, cfg.DeepgramModel)
}

// sessionVectorStore adapts *vectorstore.Client to session.VectorStore,
// returning nil (not a nil-valued non-nil interface) when vstore is nil so
// the session store's own nil check for "no write-through configured"
// still works.
func sessionVectorStore(vstore *vectorstore.Client) session.VectorStore {
	if vstore == nil {
		return nil
	}
	return vstore
}

// reapStaleSessions periodically ends sessions idle past timeout.
func reapStaleSessions(store *session.Store, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	ticker := time.NewTicker(timeout / 2)
	defer ticker.Stop()
	for range ticker.C {
		ended := store.Reap(time.Now().Add(-timeout))
		if len(ended) > 0 {
			log.Printf("server: reaped %d stale session(s)", len(ended))
		}
	}
}
