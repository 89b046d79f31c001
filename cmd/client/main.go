// Command client is a thin microphone test client for the /rtstt plain
// transport (§6): it captures 16-bit mono PCM at 16kHz in 30ms chunks,
// streams them as binary WebSocket frames, and prints the StartSpeaking/
// StopSpeaking/Text events the server sends back.
//
// Grounded on the teacher's client/internal/audio/capture.go malgo usage.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gen2brain/malgo"
	"github.com/gorilla/websocket"

	"github.com/kestrelstt/rtstt/internal/protocol"
)

const (
	sampleRate  = 16000
	channels    = 1
	chunkMs     = 30
	bytesPerSec = sampleRate * channels * 2
)

func main() {
	serverURL := flag.String("server", "ws://localhost:8080/rtstt", "RTSTT server WebSocket URL")
	flag.Parse()

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("failed to connect to %s: %v", *serverURL, err)
	}
	defer conn.Close()

	var writeMu sync.Mutex

	go func() {
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				log.Printf("connection closed: %v", err)
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}
			var frame protocol.Frame
			if err := json.Unmarshal(data, &frame); err != nil {
				log.Printf("failed to decode frame: %v", err)
				continue
			}
			switch frame.Type {
			case protocol.MessageTypeStartSpeaking:
				fmt.Println("[start speaking]")
			case protocol.MessageTypeStopSpeaking:
				fmt.Println("[stop speaking]")
			case protocol.MessageTypeText:
				fmt.Printf("[text] %s\n", frame.Text)
			}
		}
	}()

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Fatalf("failed to initialize malgo context: %v", err)
	}
	defer ctx.Uninit()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = channels
	deviceConfig.SampleRate = sampleRate

	bytesPerChunk := bytesPerSec * chunkMs / 1000
	var buffer []byte

	onRecvFrames := func(_, samples []byte, _ uint32) {
		buffer = append(buffer, samples...)
		for len(buffer) >= bytesPerChunk {
			chunk := make([]byte, bytesPerChunk)
			copy(chunk, buffer[:bytesPerChunk])
			buffer = buffer[bytesPerChunk:]

			writeMu.Lock()
			err := conn.WriteMessage(websocket.BinaryMessage, chunk)
			writeMu.Unlock()
			if err != nil {
				log.Printf("failed to send audio chunk: %v", err)
			}
		}
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecvFrames})
	if err != nil {
		log.Fatalf("failed to initialize capture device: %v", err)
	}
	if err := device.Start(); err != nil {
		log.Fatalf("failed to start capture: %v", err)
	}
	defer device.Stop()

	fmt.Println("streaming microphone audio, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	writeMu.Lock()
	conn.WriteJSON(protocol.Frame{Type: protocol.MessageTypeEOF})
	writeMu.Unlock()
}
