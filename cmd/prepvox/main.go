package main

import (
	"context"
	"embed"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avelis/prepvox/internal/config"
	"github.com/avelis/prepvox/internal/export"
	"github.com/avelis/prepvox/internal/gdrive"
	"github.com/avelis/prepvox/internal/interview"
	"github.com/avelis/prepvox/internal/media"
	"github.com/avelis/prepvox/internal/question"
	"github.com/avelis/prepvox/internal/server"
	"github.com/avelis/prepvox/internal/speech"
)

//go:embed static/*
var staticFiles embed.FS

func main() {
	log.Println("prepvox: starting")

	configPath := os.Getenv(config.EnvPrefix + "CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	for _, warning := range warnings {
		log.Printf("warning: %s", warning)
	}

	store, err := question.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("question store init failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	assets, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatalf("static assets init failed: %v", err)
	}

	hub := server.NewHub()
	recorder := media.NewRecorder(cfg.MediaDir)
	exporter := export.NewWriter(cfg.ExportDir)

	var speaker interview.Speaker
	var playback server.Playback
	voiceDir := cfg.VoiceDir
	if cfg.OpenAIAPIKey != "" {
		synth := speech.NewSynthesizer(cfg.OpenAIAPIKey, cfg.TTSModel, cfg.TTSVoice, cfg.VoiceDir, hub)
		speaker = synth
		playback = synth
		voiceDir = synth.AudioDir()
	}

	var recognizer interview.Recognizer
	var audioIngest server.AudioIngest
	if cfg.DeepgramAPIKey != "" {
		rec := speech.NewRecognizer(speech.RecognizerConfig{
			APIKey:         cfg.DeepgramAPIKey,
			Model:          cfg.DeepgramModel,
			Language:       cfg.DeepgramLanguage,
			SampleRate:     cfg.AudioSampleRate,
			SilenceTimeout: cfg.ParsedSilenceTimeout(),
		})
		recognizer = rec
		audioIngest = rec
	}

	controller := interview.NewController(speaker, recognizer, recorder, hub, nil)

	handler, err := server.Handler(assets, hub, server.Adapters{
		Controller: controller,
		Questions:  store,
		Audio:      audioIngest,
		Playback:   playback,
		Media:      recorder,
		Exporter:   exporter,
		VoiceDir:   voiceDir,
	})
	if err != nil {
		log.Fatalf("build http handler failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: handler}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
		}
	}()

	if cfg.GDriveFolderID != "" {
		syncer, syncErr := gdrive.NewSyncer(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if syncErr != nil {
			log.Printf("warning: gdrive sync disabled: %v", syncErr)
		} else {
			go func() {
				ticker := time.NewTicker(5 * time.Minute)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if err := syncer.SyncDir(exporter.Dir()); err != nil {
							log.Printf("gdrive sync error: %v", err)
						}
					}
				}
			}()
		}
	}

	log.Printf("prepvox: web UI on http://127.0.0.1%s", cfg.ListenAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("prepvox: shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if recognizer != nil {
		recognizer.Stop()
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("warning: http shutdown failed: %v", err)
	}
}
