// Package config loads RTSTT tunables and server deployment settings.
//
// Per §6, the recognized tunables (vad_threads, whisper_model,
// duration_time_ms, aggresiveness, sample_rate, chunk_size_ms,
// active_to_detection_ms, max_buffered_chunks) are normally loaded from a
// JSON file, stt_config.json, under the process's data directory; a missing
// file falls back to defaults. The teacher's deployment also layers a YAML
// file (server bind address, log level/format, model paths) on top, which
// this package supports as a second, optional load path.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// STT holds the spec's recognized tunables, §6.
type STT struct {
	VADThreads          int     `json:"vad_threads" yaml:"vad_threads"`
	WhisperModel        string  `json:"whisper_model" yaml:"whisper_model"`
	DurationTimeMs      int     `json:"duration_time_ms" yaml:"duration_time_ms"`
	Aggresiveness       int     `json:"aggresiveness" yaml:"aggresiveness"`
	SampleRate          int     `json:"sample_rate" yaml:"sample_rate"`
	ChunkSizeMs         int     `json:"chunk_size_ms" yaml:"chunk_size_ms"`
	ActiveToDetectionMs int     `json:"active_to_detection_ms" yaml:"active_to_detection_ms"`
	MaxBufferedChunks   int     `json:"max_buffered_chunks" yaml:"max_buffered_chunks"`
}

// DefaultSTT returns the spec's documented defaults.
func DefaultSTT() STT {
	return STT{
		VADThreads:          4,
		WhisperModel:        "base",
		DurationTimeMs:      1200,
		Aggresiveness:       3,
		SampleRate:          16000,
		ChunkSizeMs:         30,
		ActiveToDetectionMs: 900,
		MaxBufferedChunks:   500,
	}
}

// LoadSTT reads stt_config.json at path. A missing file returns the default
// configuration with no error, per §6; any other read or parse failure is
// returned.
func LoadSTT(path string) (STT, error) {
	cfg := DefaultSTT()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return STT{}, fmt.Errorf("failed to read stt config: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return STT{}, fmt.Errorf("failed to parse stt config: %w", err)
	}

	return cfg, nil
}

// Server holds deployment-level settings layered over the spec's tunables:
// bind address, logging, model/data directories. Loaded from an optional
// YAML file, matching the teacher's server/internal/config.
type Server struct {
	BindAddress string `yaml:"bind_address"`
	Debug       bool   `yaml:"debug"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`

	DataDir          string `yaml:"data_dir"`
	WhisperModelPath string `yaml:"whisper_model_path"`
	WarmupAudioPath  string `yaml:"warmup_audio_path"`

	STT STT `yaml:"stt"`
}

// DefaultServer returns the default deployment configuration.
func DefaultServer() *Server {
	return &Server{
		BindAddress: "localhost:8080",
		Debug:       false,
		LogLevel:    "info",
		LogFormat:   "text",
		DataDir:     ".",
		STT:         DefaultSTT(),
	}
}

// LoadServer reads and parses a YAML deployment config file. A missing file
// falls back to DefaultServer, matching LoadSTT's behavior for the JSON
// tunables file.
func LoadServer(path string) (*Server, error) {
	cfg := DefaultServer()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read server config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse server config: %w", err)
	}

	if cfg.BindAddress == "" {
		cfg.BindAddress = "localhost:8080"
	}
	if cfg.STT == (STT{}) {
		cfg.STT = DefaultSTT()
	}

	return cfg, nil
}
