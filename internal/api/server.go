// Package api implements the HTTP/WebSocket surface of the server: health
// checks, WebRTC signaling, the plain binary/JSON transport of §6, and the
// supplemented audio-calibration endpoint, grounded on the teacher's
// server/internal/api/server.go.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kestrelstt/rtstt/internal/events"
	"github.com/kestrelstt/rtstt/internal/logger"
	"github.com/kestrelstt/rtstt/internal/protocol"
	"github.com/kestrelstt/rtstt/internal/rtstt"
	"github.com/kestrelstt/rtstt/internal/webrtc"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server serves the RTSTT HTTP/WebSocket API.
type Server struct {
	bindAddr string
	logger   *logger.ContextLogger
	server   *http.Server

	client        *rtstt.Client
	webrtcManager *webrtc.Manager
}

// New constructs a Server bound to an already-started RTSTTClient and its
// WebRTC manager.
func New(bindAddr string, log *logger.ContextLogger, client *rtstt.Client, webrtcManager *webrtc.Manager) *Server {
	return &Server{
		bindAddr:      bindAddr,
		logger:        log,
		client:        client,
		webrtcManager: webrtcManager,
	}
}

// Start registers every handler and serves until Stop is called or the
// listener fails.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/stream/signal", s.handleSignaling)
	mux.HandleFunc("/api/v1/analyze-audio", s.handleAnalyzeAudio)
	mux.HandleFunc("/rtstt", s.handlePlainStream)

	s.server = &http.Server{
		Addr:         s.bindAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server on %s", s.bindAddr)
	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	response := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleSignaling upgrades to WebSocket and brokers WebRTC SDP/ICE
// signaling for one peer, mirroring the teacher's handleSignaling.
func (s *Server) handleSignaling(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade to websocket: %v", err)
		return
	}
	defer conn.Close()

	peerID := uuid.New().String()
	s.logger.Info("new signaling connection from peer %s", peerID)

	var peer *webrtc.PeerConnection
	peer, err = s.webrtcManager.CreatePeerConnection(peerID, func(msg *protocol.DataChannelMessage) {
		s.handleDataChannelMessage(peerID, peer, msg)
	})
	if err != nil {
		s.logger.Error("failed to create peer connection: %v", err)
		return
	}
	defer s.webrtcManager.RemovePeerConnection(peerID)

	peer.GatherICECandidates(func(candidateJSON string) {
		msg := protocol.SignalingMessage{Type: "ice", Data: json.RawMessage(candidateJSON)}
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Error("failed to send ICE candidate: %v", err)
		}
	})

	go s.sendTranscriptionResults(peerID, peer)

	for {
		var msg protocol.SignalingMessage
		if err := conn.ReadJSON(&msg); err != nil {
			s.logger.Debug("websocket read error (peer %s): %v", peerID, err)
			break
		}

		switch msg.Type {
		case "offer":
			answer, err := peer.CreateAnswer(string(msg.Data))
			if err != nil {
				s.logger.Error("failed to create answer: %v", err)
				continue
			}
			response := protocol.SignalingMessage{Type: "answer", Data: json.RawMessage(answer)}
			if err := conn.WriteJSON(response); err != nil {
				s.logger.Error("failed to send answer: %v", err)
			}
		case "ice":
			if err := peer.AddICECandidate(string(msg.Data)); err != nil {
				s.logger.Error("failed to add ICE candidate: %v", err)
			}
		default:
			s.logger.Warn("unknown signaling message type: %s", msg.Type)
		}
	}

	s.logger.Info("signaling connection closed for peer %s", peerID)
}

func (s *Server) handleDataChannelMessage(peerID string, peer *webrtc.PeerConnection, msg *protocol.DataChannelMessage) {
	switch msg.Type {
	case protocol.MessageTypeAudioChunk:
		var audioData protocol.AudioChunkData
		if err := json.Unmarshal(msg.Data, &audioData); err != nil {
			s.logger.Error("failed to unmarshal audio chunk: %v", err)
			return
		}
		if err := s.webrtcManager.Feed(context.Background(), peerID, audioData.Data); err != nil {
			s.logger.Error("failed to feed audio chunk: %v", err)
		}
	case protocol.MessageTypeEOF:
		s.logger.Info("received EOF from peer %s", peerID)
	default:
		s.logger.Warn("unknown data channel message type: %s", msg.Type)
	}
}

// sendTranscriptionResults drains a peer's event queue and forwards every
// event to its DataChannel, mirroring the teacher's result-sender goroutine.
func (s *Server) sendTranscriptionResults(peerID string, peer *webrtc.PeerConnection) {
	s.logger.Info("starting event sender for peer %s", peerID)
	defer s.logger.Info("event sender stopped for peer %s", peerID)

	queue := peer.Queue()

	for {
		ev := queue.Get()
		if ev.IsEnd() {
			return
		}

		var out *protocol.DataChannelMessage
		switch ev.Kind {
		case events.StartSpeaking:
			out = &protocol.DataChannelMessage{Type: protocol.MessageTypeStartSpeaking, Timestamp: time.Now().UnixMilli()}
		case events.StopSpeaking:
			out = &protocol.DataChannelMessage{Type: protocol.MessageTypeStopSpeaking, Timestamp: time.Now().UnixMilli()}
		case events.Text:
			data, err := json.Marshal(protocol.TranscriptData{Text: ev.Text})
			if err != nil {
				s.logger.Error("failed to marshal transcript: %v", err)
				continue
			}
			out = &protocol.DataChannelMessage{Type: protocol.MessageTypeText, Timestamp: time.Now().UnixMilli(), Data: data}
		default:
			continue
		}

		if err := peer.SendMessage(out); err != nil {
			s.logger.Error("failed to send event to peer %s: %v", peerID, err)
			return
		}
	}
}

// handlePlainStream implements the §6 plain transport: a bidirectional
// stream of raw binary PCM chunk frames (client -> server) and JSON text
// frames (server -> client), over a single upgraded WebSocket connection.
func (s *Server) handlePlainStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade /rtstt connection: %v", err)
		return
	}
	defer conn.Close()

	queue, connID, err := s.client.Connect()
	if err != nil {
		s.logger.Error("failed to connect rtstt client: %v", err)
		return
	}
	defer s.client.Disconnect(connID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		for {
			ev := queue.Get()
			if ev.IsEnd() {
				return
			}
			var frame protocol.Frame
			switch ev.Kind {
			case events.StartSpeaking:
				frame = protocol.Frame{Type: protocol.MessageTypeStartSpeaking}
			case events.StopSpeaking:
				frame = protocol.Frame{Type: protocol.MessageTypeStopSpeaking}
			case events.Text:
				frame = protocol.Frame{Type: protocol.MessageTypeText, Text: ev.Text}
			default:
				continue
			}
			if err := conn.WriteJSON(frame); err != nil {
				s.logger.Debug("write error on /rtstt (connection %d): %v", connID, err)
				cancel()
				return
			}
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			s.logger.Debug("read error on /rtstt (connection %d): %v", connID, err)
			return
		}

		var chunk []byte
		switch msgType {
		case websocket.BinaryMessage:
			chunk = data
		case websocket.TextMessage:
			var frame protocol.Frame
			if err := json.Unmarshal(data, &frame); err != nil {
				s.logger.Error("failed to decode /rtstt frame: %v", err)
				continue
			}
			switch frame.Type {
			case protocol.MessageTypeEOF:
				return
			case protocol.MessageTypeAudioChunk:
				chunk, err = base64.StdEncoding.DecodeString(frame.Data)
				if err != nil {
					s.logger.Error("failed to decode base64 audio chunk: %v", err)
					continue
				}
			default:
				continue
			}
		default:
			continue
		}

		if err := s.client.Feed(ctx, connID, chunk); err != nil {
			s.logger.Error("feed failed for connection %d: %v", connID, err)
		}
	}
}

// handleAnalyzeAudio computes energy statistics over a PCM buffer, the
// calibration endpoint supplemented from the teacher's
// handleAnalyzeAudio (§4.2 aggressiveness tuning aid).
func (s *Server) handleAnalyzeAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request struct {
		Audio []byte `json:"audio"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(request.Audio) == 0 {
		http.Error(w, "no audio data provided", http.StatusBadRequest)
		return
	}
	if len(request.Audio)%2 != 0 {
		http.Error(w, "audio data must be an even number of bytes", http.StatusBadRequest)
		return
	}

	samples := make([]int16, len(request.Audio)/2)
	for i := range samples {
		samples[i] = int16(request.Audio[i*2]) | int16(request.Audio[i*2+1])<<8
	}

	stats := calculateAudioStatistics(samples)
	s.logger.Info("analyzed %d samples: min=%.1f max=%.1f avg=%.1f p5=%.1f p95=%.1f",
		stats.SampleCount, stats.Min, stats.Max, stats.Avg, stats.P5, stats.P95)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// AudioStatistics holds per-frame RMS energy statistics, used to help pick
// a FastVAD aggressiveness level for a given microphone/room (§4.2).
type AudioStatistics struct {
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Avg         float64 `json:"avg"`
	P5          float64 `json:"p5"`
	P95         float64 `json:"p95"`
	SampleCount int     `json:"sample_count"`
}

func calculateAudioStatistics(samples []int16) AudioStatistics {
	if len(samples) == 0 {
		return AudioStatistics{}
	}

	const frameSize = 160 // 10ms @ 16kHz
	var energies []float64
	for i := 0; i+frameSize <= len(samples); i += frameSize {
		energies = append(energies, frameEnergy(samples[i:i+frameSize]))
	}
	if len(energies) == 0 {
		return AudioStatistics{}
	}

	var sum, min, max float64
	min, max = energies[0], energies[0]
	for _, e := range energies {
		sum += e
		if e < min {
			min = e
		}
		if e > max {
			max = e
		}
	}
	avg := sum / float64(len(energies))

	sorted := make([]float64, len(energies))
	copy(sorted, energies)
	for i := range sorted {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[i] > sorted[j] {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}

	p5 := int(float64(len(sorted)) * 0.05)
	p95 := int(float64(len(sorted)) * 0.95)
	if p95 >= len(sorted) {
		p95 = len(sorted) - 1
	}

	return AudioStatistics{
		Min: min, Max: max, Avg: avg,
		P5: sorted[p5], P95: sorted[p95],
		SampleCount: len(samples),
	}
}

func frameEnergy(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSquares float64
	for _, s := range samples {
		v := float64(s)
		sumSquares += v * v
	}
	return math.Sqrt(sumSquares / float64(len(samples)))
}
