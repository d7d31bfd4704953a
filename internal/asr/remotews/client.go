// Package remotews streams audio chunks to a remote transcription
// service over a persistent WebSocket connection. Each chunk is a
// sequence-numbered JSON header followed by a binary f32le frame; the
// server answers with transcript frames carrying the same sequence.
package remotews

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tiroq/echotap/internal/audio"
	"github.com/tiroq/echotap/internal/diaglog"
)

// Sentinel errors returned by the client.
var (
	ErrNotLoaded      = errors.New("remotews: transcribe before load")
	ErrClosed         = errors.New("remotews: connection closed")
	ErrConnectionLost = errors.New("remotews: connection lost")
)

// Frame types of the wire protocol.
const (
	frameStart      = "start"
	frameReady      = "ready"
	frameChunk      = "chunk"
	frameTranscript = "transcript"
	frameError      = "error"
	frameStop       = "stop"
)

// Config configures the remote WebSocket backend.
type Config struct {
	URL              string // ws:// or wss:// endpoint
	Token            string // optional auth token, sent as Bearer
	Language         string
	SampleRate       int // rate of outgoing chunks, default 16000
	WindowSeconds    int
	StrideSeconds    int
	HandshakeTimeout time.Duration // default 10s
}

// frame is the JSON envelope for every text message in both directions.
type frame struct {
	Type    string `json:"type"`
	Seq     int    `json:"seq,omitempty"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
	Model   string `json:"model,omitempty"`

	// start frame fields
	Language      string `json:"language,omitempty"`
	SampleRate    int    `json:"sample_rate,omitempty"`
	WindowSeconds int    `json:"window_seconds,omitempty"`
	StrideSeconds int    `json:"stride_seconds,omitempty"`
	Samples       int    `json:"samples,omitempty"`
}

type chunkResult struct {
	text string
	err  error
}

// Client is a transcription engine backed by a remote WebSocket service.
type Client struct {
	cfg Config

	mu     sync.RWMutex
	conn   *websocket.Conn
	loaded bool
	model  string

	writeMu sync.Mutex // gorilla allows one concurrent writer

	seq   int
	seqMu sync.Mutex

	pending   map[int]chan chunkResult
	pendingMu sync.Mutex

	readDone chan struct{}

	logger    *diaglog.Logger
	loggerMu  sync.RWMutex
	sessionID string
}

// New creates a remote WebSocket client.
func New(cfg Config) *Client {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Client{
		cfg:     cfg,
		pending: make(map[int]chan chunkResult),
	}
}

// SetLogger injects a diaglog.Logger for debug logging.
func (c *Client) SetLogger(l *diaglog.Logger, sessionID string) {
	c.loggerMu.Lock()
	c.logger = l
	c.sessionID = sessionID
	c.loggerMu.Unlock()
}

func (c *Client) log(entry diaglog.LogEntry) {
	c.loggerMu.RLock()
	l := c.logger
	sessionID := c.sessionID
	c.loggerMu.RUnlock()
	if l == nil {
		return
	}
	if entry.Component == "" {
		entry.Component = "remote-ws"
	}
	if entry.SessionID == "" {
		entry.SessionID = sessionID
	}
	l.Log(entry)
}

// Name returns the backend identifier.
func (c *Client) Name() string {
	return "remote_ws"
}

// Load dials the service and performs the start/ready handshake. The
// connection stays open for the life of the session.
func (c *Client) Load(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return fmt.Errorf("remotews: already connected")
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("remotews: dial %s: %w", c.cfg.URL, err)
	}

	start := frame{
		Type:          frameStart,
		Language:      c.cfg.Language,
		SampleRate:    c.cfg.SampleRate,
		WindowSeconds: c.cfg.WindowSeconds,
		StrideSeconds: c.cfg.StrideSeconds,
	}
	if err := conn.WriteJSON(start); err != nil {
		conn.Close()
		return fmt.Errorf("remotews: send start: %w", err)
	}

	// The ready frame confirms the server allocated a model for us.
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	var ready frame
	if err := conn.ReadJSON(&ready); err != nil {
		conn.Close()
		return fmt.Errorf("remotews: wait for ready: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	switch ready.Type {
	case frameReady:
	case frameError:
		conn.Close()
		return fmt.Errorf("remotews: service rejected session: %s", ready.Message)
	default:
		conn.Close()
		return fmt.Errorf("remotews: unexpected handshake frame %q", ready.Type)
	}

	c.mu.Lock()
	c.conn = conn
	c.loaded = true
	c.model = ready.Model
	c.readDone = make(chan struct{})
	c.mu.Unlock()

	c.log(diaglog.LogEntry{
		Event:   "ws_connect",
		Payload: map[string]interface{}{"url": c.cfg.URL, "model": ready.Model},
	})

	go c.readLoop(conn, c.readDone)
	return nil
}

// Transcribe sends one chunk and waits for the matching transcript frame.
func (c *Client) Transcribe(ctx context.Context, samples []float32) (string, error) {
	c.mu.RLock()
	conn := c.conn
	loaded := c.loaded
	readDone := c.readDone
	c.mu.RUnlock()
	if !loaded || conn == nil {
		return "", ErrNotLoaded
	}

	c.seqMu.Lock()
	c.seq++
	seq := c.seq
	c.seqMu.Unlock()

	respChan := make(chan chunkResult, 1)
	c.pendingMu.Lock()
	c.pending[seq] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, seq)
		c.pendingMu.Unlock()
	}()

	header := frame{Type: frameChunk, Seq: seq, Samples: len(samples)}

	c.writeMu.Lock()
	err := conn.WriteJSON(header)
	if err == nil {
		err = conn.WriteMessage(websocket.BinaryMessage, audio.EncodeF32LE(samples))
	}
	c.writeMu.Unlock()
	if err != nil {
		return "", fmt.Errorf("remotews: send chunk %d: %w", seq, err)
	}

	select {
	case result := <-respChan:
		if result.err != nil {
			return "", result.err
		}
		return result.text, nil
	case <-readDone:
		return "", ErrConnectionLost
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// readLoop reads server frames and routes transcripts to waiting chunks.
func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			c.failPending(ErrConnectionLost)
			return
		}

		switch f.Type {
		case frameTranscript:
			c.deliver(f.Seq, chunkResult{text: f.Text})
		case frameError:
			if f.Seq > 0 {
				c.deliver(f.Seq, chunkResult{err: fmt.Errorf("remotews: chunk %d: %s", f.Seq, f.Message)})
			} else {
				c.log(diaglog.LogEntry{
					Event:   "ws_error",
					Payload: map[string]interface{}{"message": f.Message},
				})
			}
		}
	}
}

// deliver routes a result to the waiting Transcribe call, if any.
func (c *Client) deliver(seq int, result chunkResult) {
	c.pendingMu.Lock()
	ch, ok := c.pending[seq]
	c.pendingMu.Unlock()
	if ok {
		select {
		case ch <- result:
		default:
		}
	}
}

// failPending resolves every in-flight chunk with err.
func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for seq, ch := range c.pending {
		select {
		case ch <- chunkResult{err: err}:
		default:
		}
		delete(c.pending, seq)
	}
}

// Close sends a best-effort stop frame and tears down the connection.
// In-flight chunks resolve with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	readDone := c.readDone
	c.conn = nil
	c.loaded = false
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	// Resolve waiters first so they see ErrClosed, not a read error.
	c.failPending(ErrClosed)

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = conn.WriteJSON(frame{Type: frameStop})
	c.writeMu.Unlock()

	err := conn.Close()
	if readDone != nil {
		<-readDone
	}

	c.log(diaglog.LogEntry{
		Event:   "ws_disconnect",
		Payload: map[string]interface{}{"url": c.cfg.URL},
	})
	return err
}

// HealthCheck dials the service and closes immediately.
func (c *Client) HealthCheck() error {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, _, err := dialer.Dial(c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("remotews: unreachable: %w", err)
	}
	return conn.Close()
}
