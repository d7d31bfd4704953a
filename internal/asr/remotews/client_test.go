package remotews

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

// Mock transcription server for testing
type mockASRServer struct {
	server       *httptest.Server
	mode         string // "", "reject", "chunk_error", "silent", "reorder", "drop_after_chunk", "empty"
	requireToken string
	gotStart     chan frame
}

func newMockASRServer() *mockASRServer {
	mock := &mockASRServer{
		gotStart: make(chan frame, 1),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if mock.requireToken != "" {
			if r.Header.Get("Authorization") != "Bearer "+mock.requireToken {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() {
			_ = conn.Close()
		}()

		mock.handleConnection(conn)
	}))

	return mock
}

func (m *mockASRServer) handleConnection(conn *websocket.Conn) {
	var start frame
	if err := conn.ReadJSON(&start); err != nil {
		return
	}
	select {
	case m.gotStart <- start:
	default:
	}

	if m.mode == "reject" {
		_ = conn.WriteJSON(frame{Type: frameError, Message: "no capacity"})
		return
	}

	if err := conn.WriteJSON(frame{Type: frameReady, Model: "small"}); err != nil {
		return
	}

	var reorderBuf []frame
	for {
		var header frame
		if err := conn.ReadJSON(&header); err != nil {
			return
		}
		if header.Type == frameStop {
			return
		}
		if header.Type != frameChunk {
			continue
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			_ = conn.WriteJSON(frame{Type: frameError, Seq: header.Seq, Message: "expected binary frame"})
			continue
		}

		reply := frame{
			Type: frameTranscript,
			Seq:  header.Seq,
			Text: fmt.Sprintf("samples-%d", len(data)/4),
		}

		switch m.mode {
		case "silent":
			// Never reply, let the client time out.
		case "empty":
			reply.Text = ""
			_ = conn.WriteJSON(reply)
		case "chunk_error":
			_ = conn.WriteJSON(frame{Type: frameError, Seq: header.Seq, Message: "decode failed"})
		case "drop_after_chunk":
			return
		case "reorder":
			reorderBuf = append(reorderBuf, reply)
			if len(reorderBuf) == 2 {
				_ = conn.WriteJSON(reorderBuf[1])
				_ = conn.WriteJSON(reorderBuf[0])
				reorderBuf = nil
			}
		default:
			_ = conn.WriteJSON(reply)
		}
	}
}

func (m *mockASRServer) URL() string {
	return "ws" + strings.TrimPrefix(m.server.URL, "http")
}

func (m *mockASRServer) Close() {
	m.server.Close()
}

// ─────────────────────────────────────────────────────────────────────
// Load
// ─────────────────────────────────────────────────────────────────────

func TestLoadHandshake(t *testing.T) {
	mock := newMockASRServer()
	defer mock.Close()

	client := New(Config{
		URL:           mock.URL(),
		Language:      "en",
		WindowSeconds: 8,
		StrideSeconds: 2,
	})
	if err := client.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer client.Close()

	if client.model != "small" {
		t.Errorf("model = %q, want small", client.model)
	}

	select {
	case start := <-mock.gotStart:
		if start.Type != frameStart {
			t.Errorf("start type = %q, want %q", start.Type, frameStart)
		}
		if start.Language != "en" {
			t.Errorf("language = %q, want en", start.Language)
		}
		if start.SampleRate != 16000 {
			t.Errorf("sample_rate = %d, want 16000", start.SampleRate)
		}
		if start.WindowSeconds != 8 || start.StrideSeconds != 2 {
			t.Errorf("window/stride = %d/%d, want 8/2", start.WindowSeconds, start.StrideSeconds)
		}
	case <-time.After(time.Second):
		t.Fatal("server never received start frame")
	}
}

func TestLoadRejected(t *testing.T) {
	mock := newMockASRServer()
	mock.mode = "reject"
	defer mock.Close()

	client := New(Config{URL: mock.URL()})
	err := client.Load(context.Background())
	if err == nil {
		t.Fatal("expected error for rejected session")
	}
	if !strings.Contains(err.Error(), "no capacity") {
		t.Errorf("error = %v, want rejection message included", err)
	}
}

func TestLoadUnreachable(t *testing.T) {
	mock := newMockASRServer()
	url := mock.URL()
	mock.Close()

	client := New(Config{URL: url, HandshakeTimeout: time.Second})
	if err := client.Load(context.Background()); err == nil {
		t.Fatal("expected error for unreachable service")
	}
}

func TestLoadAlreadyConnected(t *testing.T) {
	mock := newMockASRServer()
	defer mock.Close()

	client := New(Config{URL: mock.URL()})
	if err := client.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer client.Close()

	if err := client.Load(context.Background()); err == nil {
		t.Fatal("expected error for second Load")
	}
}

func TestLoadAuthToken(t *testing.T) {
	mock := newMockASRServer()
	mock.requireToken = "sekrit"
	defer mock.Close()

	denied := New(Config{URL: mock.URL()})
	if err := denied.Load(context.Background()); err == nil {
		t.Fatal("expected error without token")
	}

	allowed := New(Config{URL: mock.URL(), Token: "sekrit"})
	if err := allowed.Load(context.Background()); err != nil {
		t.Fatalf("Load with token: %v", err)
	}
	allowed.Close()
}

// ─────────────────────────────────────────────────────────────────────
// Transcribe
// ─────────────────────────────────────────────────────────────────────

func TestTranscribeRoundtrip(t *testing.T) {
	mock := newMockASRServer()
	defer mock.Close()

	client := New(Config{URL: mock.URL()})
	if err := client.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer client.Close()

	text, err := client.Transcribe(context.Background(), make([]float32, 16000))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "samples-16000" {
		t.Errorf("text = %q, want samples-16000", text)
	}
}

func TestTranscribeBeforeLoad(t *testing.T) {
	client := New(Config{URL: "ws://localhost:1"})
	_, err := client.Transcribe(context.Background(), make([]float32, 10))
	if !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("error = %v, want ErrNotLoaded", err)
	}
}

func TestTranscribeEmptyText(t *testing.T) {
	mock := newMockASRServer()
	mock.mode = "empty"
	defer mock.Close()

	client := New(Config{URL: mock.URL()})
	if err := client.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer client.Close()

	text, err := client.Transcribe(context.Background(), make([]float32, 100))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "" {
		t.Errorf("text = %q, want empty", text)
	}
}

func TestTranscribeChunkError(t *testing.T) {
	mock := newMockASRServer()
	mock.mode = "chunk_error"
	defer mock.Close()

	client := New(Config{URL: mock.URL()})
	if err := client.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer client.Close()

	_, err := client.Transcribe(context.Background(), make([]float32, 100))
	if err == nil {
		t.Fatal("expected error for chunk failure")
	}
	if !strings.Contains(err.Error(), "decode failed") {
		t.Errorf("error = %v, want server message included", err)
	}
}

func TestTranscribeTimeout(t *testing.T) {
	mock := newMockASRServer()
	mock.mode = "silent"
	defer mock.Close()

	client := New(Config{URL: mock.URL()})
	if err := client.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := client.Transcribe(ctx, make([]float32, 100))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want context.DeadlineExceeded", err)
	}
}

func TestTranscribeCorrelation(t *testing.T) {
	mock := newMockASRServer()
	mock.mode = "reorder"
	defer mock.Close()

	client := New(Config{URL: mock.URL()})
	if err := client.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer client.Close()

	// Two concurrent chunks of different sizes. The server replies in
	// reverse order; each caller must still get its own transcript.
	var wg sync.WaitGroup
	results := make(map[int]string)
	var resultsMu sync.Mutex

	for _, n := range []int{100, 200} {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			text, err := client.Transcribe(context.Background(), make([]float32, n))
			if err != nil {
				t.Errorf("Transcribe(%d): %v", n, err)
				return
			}
			resultsMu.Lock()
			results[n] = text
			resultsMu.Unlock()
		}(n)
	}
	wg.Wait()

	if results[100] != "samples-100" {
		t.Errorf("results[100] = %q, want samples-100", results[100])
	}
	if results[200] != "samples-200" {
		t.Errorf("results[200] = %q, want samples-200", results[200])
	}
}

func TestServerDisconnectFailsPending(t *testing.T) {
	mock := newMockASRServer()
	mock.mode = "drop_after_chunk"
	defer mock.Close()

	client := New(Config{URL: mock.URL()})
	if err := client.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer client.Close()

	_, err := client.Transcribe(context.Background(), make([]float32, 100))
	if !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("error = %v, want ErrConnectionLost", err)
	}
}

// ─────────────────────────────────────────────────────────────────────
// Close
// ─────────────────────────────────────────────────────────────────────

func TestCloseUnblocksPending(t *testing.T) {
	mock := newMockASRServer()
	mock.mode = "silent"
	defer mock.Close()

	client := New(Config{URL: mock.URL()})
	if err := client.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Transcribe(context.Background(), make([]float32, 100))
		errCh <- err
	}()

	// Give the chunk time to go out before closing.
	time.Sleep(50 * time.Millisecond)
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("error = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Transcribe still blocked after Close")
	}
}

func TestCloseIdempotent(t *testing.T) {
	mock := newMockASRServer()
	defer mock.Close()

	client := New(Config{URL: mock.URL()})
	if err := client.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestCloseWithoutLoad(t *testing.T) {
	client := New(Config{URL: "ws://localhost:1"})
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// ─────────────────────────────────────────────────────────────────────
// Health check
// ─────────────────────────────────────────────────────────────────────

func TestHealthCheck(t *testing.T) {
	mock := newMockASRServer()
	defer mock.Close()

	client := New(Config{URL: mock.URL()})
	if err := client.HealthCheck(); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestHealthCheckUnreachable(t *testing.T) {
	mock := newMockASRServer()
	url := mock.URL()
	mock.Close()

	client := New(Config{URL: url, HandshakeTimeout: time.Second})
	if err := client.HealthCheck(); err == nil {
		t.Fatal("expected error for unreachable service")
	}
}
