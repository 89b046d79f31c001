// Package webrtc adapts the pion/webrtc DataChannel transport from §6 to
// the RTSTTClient façade, grounded on the teacher's
// server/internal/webrtc/manager.go peer-connection registry.
package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/kestrelstt/rtstt/internal/events"
	"github.com/kestrelstt/rtstt/internal/logger"
	"github.com/kestrelstt/rtstt/internal/protocol"
	"github.com/kestrelstt/rtstt/internal/rtstt"
)

// Manager owns every live WebRTC peer connection and its corresponding
// RTSTTClient connection id, mirroring the teacher's Manager/peerConns map.
type Manager struct {
	logger      *logger.ContextLogger
	client      *rtstt.Client
	peerConnsMu sync.RWMutex
	peerConns   map[string]*PeerConnection
	config      webrtc.Configuration
}

// PeerConnection is one peer's WebRTC session plus its RTSTT connection.
type PeerConnection struct {
	ID           string
	pc           *webrtc.PeerConnection
	dataChannel  *webrtc.DataChannel
	connectionID int
	queue        *events.Queue
	logger       *logger.ContextLogger
	onMessage    func(msg *protocol.DataChannelMessage)
}

// New constructs a Manager bound to an already-started RTSTTClient.
func New(log *logger.ContextLogger, client *rtstt.Client, iceServers []webrtc.ICEServer) *Manager {
	return &Manager{
		logger:    log,
		client:    client,
		peerConns: make(map[string]*PeerConnection),
		config:    webrtc.Configuration{ICEServers: iceServers},
	}
}

// CreatePeerConnection creates a peer connection, registers it with the
// RTSTTClient, and wires DataChannel messages to onMessage.
func (m *Manager) CreatePeerConnection(id string, onMessage func(msg *protocol.DataChannelMessage)) (*PeerConnection, error) {
	m.peerConnsMu.Lock()
	defer m.peerConnsMu.Unlock()

	if _, exists := m.peerConns[id]; exists {
		return nil, fmt.Errorf("webrtc: peer connection %s already exists", id)
	}

	pc, err := webrtc.NewPeerConnection(m.config)
	if err != nil {
		return nil, fmt.Errorf("webrtc: failed to create peer connection: %w", err)
	}

	queue, connID, err := m.client.Connect()
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("webrtc: failed to register rtstt connection: %w", err)
	}

	peer := &PeerConnection{
		ID:           id,
		pc:           pc,
		connectionID: connID,
		queue:        queue,
		logger:       m.logger.With("peer-" + id),
		onMessage:    onMessage,
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		peer.logger.Info("connection state: %s", state.String())
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			m.RemovePeerConnection(id)
		}
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		peer.logger.Debug("ICE state: %s", state.String())
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		peer.logger.Info("data channel %q opened", dc.Label())
		peer.dataChannel = dc

		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			peer.handleMessage(msg.Data)
		})
		dc.OnError(func(err error) {
			peer.logger.Error("data channel error: %v", err)
		})
	})

	m.peerConns[id] = peer
	m.logger.Info("created peer connection for %s (rtstt connection %d)", id, connID)
	return peer, nil
}

// RemovePeerConnection disconnects the peer's RTSTT connection and closes
// its WebRTC session.
func (m *Manager) RemovePeerConnection(id string) {
	m.peerConnsMu.Lock()
	defer m.peerConnsMu.Unlock()

	peer, exists := m.peerConns[id]
	if !exists {
		return
	}
	if err := m.client.Disconnect(peer.connectionID); err != nil {
		m.logger.Debug("disconnect rtstt connection %d: %v", peer.connectionID, err)
	}
	if peer.pc != nil {
		peer.pc.Close()
	}
	delete(m.peerConns, id)
	m.logger.Info("removed peer connection %s", id)
}

// GetPeerConnection returns a peer connection by id.
func (m *Manager) GetPeerConnection(id string) (*PeerConnection, bool) {
	m.peerConnsMu.RLock()
	defer m.peerConnsMu.RUnlock()
	peer, exists := m.peerConns[id]
	return peer, exists
}

// Feed forwards one audio chunk to the RTSTTClient for this peer.
func (m *Manager) Feed(ctx context.Context, peerID string, chunk []byte) error {
	m.peerConnsMu.RLock()
	peer, exists := m.peerConns[peerID]
	m.peerConnsMu.RUnlock()
	if !exists {
		return fmt.Errorf("webrtc: peer %s not found", peerID)
	}
	return m.client.Feed(ctx, peer.connectionID, chunk)
}

// CreateOffer creates and sets a local WebRTC offer.
func (p *PeerConnection) CreateOffer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("webrtc: failed to create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("webrtc: failed to set local description: %w", err)
	}
	offerJSON, err := json.Marshal(offer)
	if err != nil {
		return "", fmt.Errorf("webrtc: failed to marshal offer: %w", err)
	}
	return string(offerJSON), nil
}

// CreateAnswer sets the remote offer and produces a local answer.
func (p *PeerConnection) CreateAnswer(offerJSON string) (string, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal([]byte(offerJSON), &offer); err != nil {
		return "", fmt.Errorf("webrtc: failed to unmarshal offer: %w", err)
	}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("webrtc: failed to set remote description: %w", err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("webrtc: failed to create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("webrtc: failed to set local description: %w", err)
	}
	answerJSON, err := json.Marshal(answer)
	if err != nil {
		return "", fmt.Errorf("webrtc: failed to marshal answer: %w", err)
	}
	return string(answerJSON), nil
}

// AddICECandidate adds a remote ICE candidate.
func (p *PeerConnection) AddICECandidate(candidateJSON string) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(candidateJSON), &candidate); err != nil {
		return fmt.Errorf("webrtc: failed to unmarshal ICE candidate: %w", err)
	}
	return p.pc.AddICECandidate(candidate)
}

// GatherICECandidates registers a callback invoked for every local ICE
// candidate as it is discovered.
func (p *PeerConnection) GatherICECandidates(onCandidate func(string)) {
	p.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		candidateJSON, err := json.Marshal(candidate.ToJSON())
		if err != nil {
			p.logger.Error("failed to marshal ICE candidate: %v", err)
			return
		}
		onCandidate(string(candidateJSON))
	})
}

// SendMessage sends an envelope over this peer's DataChannel.
func (p *PeerConnection) SendMessage(msg *protocol.DataChannelMessage) error {
	if p.dataChannel == nil {
		return fmt.Errorf("webrtc: data channel not ready")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("webrtc: failed to marshal message: %w", err)
	}
	return p.dataChannel.Send(data)
}

// ConnectionID returns the RTSTTClient connection id bound to this peer.
func (p *PeerConnection) ConnectionID() int { return p.connectionID }

// Queue returns this peer's RTSTTClient event queue.
func (p *PeerConnection) Queue() *events.Queue { return p.queue }

func (p *PeerConnection) handleMessage(data []byte) {
	var msg protocol.DataChannelMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		p.logger.Error("failed to unmarshal data channel message: %v", err)
		return
	}
	if p.onMessage != nil {
		p.onMessage(&msg)
	}
}

// Close closes the underlying peer connection.
func (p *PeerConnection) Close() error {
	if p.pc != nil {
		return p.pc.Close()
	}
	return nil
}
