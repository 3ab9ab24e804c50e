// Package transport carries sealed record frames between bus endpoints.
// The core never opens sockets itself; the embedding environment hands it
// one of these. The websocket flavor serves development hosts where the
// internal bus is bridged over TCP; Pair serves in-process peers and
// tests.
package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrClosed         = errors.New("transport: closed")
	ErrDeliveryFailed = errors.New("transport: delivery failed")
)

// Frame is the wire envelope for one sealed record.
type Frame struct {
	Dest      string `json:"dest"`
	Payload   []byte `json:"payload"`
	Timestamp int64  `json:"ts"`
}

const (
	writeTimeout = 10 * time.Second

	readBufferSize  = 1024
	writeBufferSize = 1024
)

// WSTransport sends frames over one websocket connection.
type WSTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// Dial connects to a bus bridge endpoint.
func Dial(url string) (*WSTransport, error) {
	dialer := websocket.Dialer{
		ReadBufferSize:   readBufferSize,
		WriteBufferSize:  writeBufferSize,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return &WSTransport{conn: conn}, nil
}

// Upgrade converts an incoming HTTP request into a transport. Used by the
// bridge side.
func Upgrade(w http.ResponseWriter, r *http.Request) (*WSTransport, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  readBufferSize,
		WriteBufferSize: writeBufferSize,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &WSTransport{conn: conn}, nil
}

// Send writes one frame. Concurrent senders are serialized; gorilla
// permits one writer at a time.
func (t *WSTransport) Send(dest string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	frame := Frame{Dest: dest, Payload: payload, Timestamp: time.Now().UnixMilli()}
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if err := t.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return errors.Join(ErrDeliveryFailed, err)
	}
	return nil
}

// Next blocks for the next inbound frame.
func (t *WSTransport) Next() (*Frame, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, errors.Join(ErrClosed, err)
	}
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

// Close shuts the connection down.
func (t *WSTransport) Close() error {
	return t.conn.Close()
}
