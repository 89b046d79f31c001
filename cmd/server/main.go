// Command server boots the RTSTT server: it loads configuration, builds
// the FastVAD gate, NeuralVADPool, TranscriberPool, and RTSTTClient façade,
// then serves the WebRTC and plain-transport API until interrupted.
//
// Grounded on the teacher's server/cmd/server/main.go bootstrap sequence.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/kestrelstt/rtstt/internal/api"
	"github.com/kestrelstt/rtstt/internal/audio"
	"github.com/kestrelstt/rtstt/internal/config"
	"github.com/kestrelstt/rtstt/internal/logger"
	"github.com/kestrelstt/rtstt/internal/rtstt"
	"github.com/kestrelstt/rtstt/internal/transcribe"
	"github.com/kestrelstt/rtstt/internal/vad"
	"github.com/kestrelstt/rtstt/internal/webrtc"
)

// warmupAssetName is the well-known filename §6 requires under <data_dir>
// for the 7s warm-up PCM asset; its absence is a fatal startup error.
const warmupAssetName = "warmup.pcm"

func main() {
	configPath := flag.String("config", "config.yaml", "path to the deployment configuration file")
	sttConfigPath := flag.String("stt-config", "stt_config.json", "path to the STT tunables file")
	flag.Parse()

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		panic(err)
	}
	// stt_config.json is the spec-literal tunables file; it overrides any STT
	// block embedded in the YAML deployment config only when present on disk.
	// A missing stt_config.json leaves cfg.STT as LoadServer already resolved
	// it (YAML-embedded values, or DefaultSTT if the YAML omitted the block
	// too) rather than silently stomping it with a fresh set of defaults.
	if _, statErr := os.Stat(*sttConfigPath); statErr == nil {
		sttCfg, err := config.LoadSTT(*sttConfigPath)
		if err != nil {
			panic(err)
		}
		cfg.STT = sttCfg
	}

	log := logger.NewWithConfig(logger.Config{
		Level:  logger.ParseLevel(cfg.LogLevel),
		Format: logger.ParseFormat(cfg.LogFormat),
		Output: os.Stdout,
	})
	log.Info("starting RTSTT server")
	log.Info("config: bind_address=%s whisper_model=%s aggressiveness=%d chunk_size_ms=%d",
		cfg.BindAddress, cfg.STT.WhisperModel, cfg.STT.Aggresiveness, cfg.STT.ChunkSizeMs)

	warmupPath := cfg.WarmupAudioPath
	if warmupPath == "" {
		warmupPath = filepath.Join(cfg.DataDir, warmupAssetName)
	}
	warmupAudio, err := loadWarmupAudio(warmupPath)
	if err != nil {
		log.Fatal("failed to load warm-up audio: %v", err)
	}

	modelPath := cfg.WhisperModelPath
	if modelPath == "" {
		modelPath = cfg.STT.WhisperModel
	}

	transcriberPool, err := transcribe.NewPool(transcribe.Config{
		ModelPath:   modelPath,
		Language:    "auto",
		Threads:     uint(cfg.STT.VADThreads),
		PoolSize:    cfg.STT.VADThreads,
		WarmupAudio: warmupAudio,
	}, log.With("transcribe"))
	if err != nil {
		log.Fatal("failed to construct transcriber pool: %v", err)
	}

	neuralPool := vad.NewPool(cfg.STT.VADThreads, func() (vad.Model, error) {
		return vad.NewEnergyModel(cfg.STT.SampleRate), nil
	}, log.With("neural-vad"))

	fastVAD := vad.NewFastVAD(cfg.STT.SampleRate, cfg.STT.Aggresiveness)

	client := rtstt.New(
		fastVAD, nil,
		neuralPool, rtstt.VoidLifecycle{StartFunc: neuralPool.Start, CloseFunc: neuralPool.Close},
		transcriberPool, transcriberPool,
		rtstt.STTConfig{
			DurationTimeMs:      cfg.STT.DurationTimeMs,
			ActiveToDetectionMs: cfg.STT.ActiveToDetectionMs,
			ChunkSizeMs:         cfg.STT.ChunkSizeMs,
			MaxBufferedChunks:   cfg.STT.MaxBufferedChunks,
		},
		log.With("rtstt"),
	)

	if err := client.Start(); err != nil {
		log.Fatal("failed to start rtstt client: %v", err)
	}

	webrtcManager := webrtc.New(log.With("webrtc"), client, nil)
	apiServer := api.New(cfg.BindAddress, log.With("api"), client, webrtcManager)

	errChan := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		log.Fatal("server error: %v", err)
	case sig := <-sigChan:
		log.Info("received signal %v, shutting down", sig)
		if err := apiServer.Stop(); err != nil {
			log.Error("error stopping server: %v", err)
		}
		if err := client.Close(); err != nil {
			log.Error("error closing rtstt client: %v", err)
		}
	}

	log.Info("server stopped")
}

// loadWarmupAudio reads a raw 16-bit little-endian mono 16kHz PCM file and
// returns it as normalized float32 samples, per §4.4's warm-up contract.
// Per §6, the warm-up asset is required at a well-known path; its absence or
// unreadability is a fatal startup error, not a "skip warm-up" fallback.
func loadWarmupAudio(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("warm-up audio asset %q: %w", path, err)
	}
	return audio.FromChunk(data).Float32(), nil
}
