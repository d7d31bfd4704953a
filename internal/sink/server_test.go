package sink

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tiroq/echotap/internal/orchestrator"
)

func newTestServer(t *testing.T, history []orchestrator.Entry) (*Hub, string) {
	t.Helper()
	hub := NewHub(nil)
	status := func() orchestrator.Status {
		return orchestrator.Status{State: "listening", Indicator: "active", Target: "meet"}
	}
	hist := func() []orchestrator.Entry { return history }

	srv := NewServer("127.0.0.1:0", hub, status, hist, nil)
	addr, err := srv.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return hub, addr
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStatusEndpoint(t *testing.T) {
	_, addr := newTestServer(t, nil)

	resp, err := http.Get("http://" + addr + "/v1/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	var got struct {
		State  string `json:"state"`
		Target string `json:"target"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.State != "listening" || got.Target != "meet" {
		t.Errorf("got %+v", got)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	history := []orchestrator.Entry{
		{Text: "one", EmittedAt: time.Now(), SessionID: "s1", Target: "meet"},
		{Text: "two", EmittedAt: time.Now(), SessionID: "s1", Target: "meet"},
	}
	_, addr := newTestServer(t, history)

	resp, err := http.Get("http://" + addr + "/v1/history")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var got []orchestrator.Entry
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].Text != "one" || got[1].Text != "two" {
		t.Errorf("got %+v", got)
	}
}

func TestHistoryEmptyIsJSONArray(t *testing.T) {
	_, addr := newTestServer(t, nil)

	resp, err := http.Get("http://" + addr + "/v1/history")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if got := strings.TrimSpace(string(body)); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, addr := newTestServer(t, nil)

	resp, err := http.Post("http://"+addr+"/v1/status", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestLivePushesEntries(t *testing.T) {
	hub, addr := newTestServer(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/v1/live", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitFor(t, "consumer attach", func() bool { return hub.Consumers() == 1 })
	hub.Publish(orchestrator.Entry{Text: "hello", EmittedAt: time.Now(), SessionID: "s1", Target: "meet"})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var raw map[string]interface{}
	if err := conn.ReadJSON(&raw); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}

	if raw["text"] != "hello" {
		t.Errorf("text = %v", raw["text"])
	}
	if _, ok := raw["emittedAt"]; !ok {
		t.Error("missing emittedAt key")
	}
	// Only the public fields cross the wire.
	if len(raw) != 2 {
		t.Errorf("unexpected keys in %v", raw)
	}
}

func TestLiveMultipleConsumers(t *testing.T) {
	hub, addr := newTestServer(t, nil)

	var conns []*websocket.Conn
	for i := 0; i < 2; i++ {
		conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/v1/live", nil)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		defer conn.Close()
		conns = append(conns, conn)
	}

	waitFor(t, "both consumers", func() bool { return hub.Consumers() == 2 })
	hub.Publish(orchestrator.Entry{Text: "fan out", EmittedAt: time.Now()})

	for i, conn := range conns {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var got liveUpdate
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("consumer %d ReadJSON: %v", i, err)
		}
		if got.Text != "fan out" {
			t.Errorf("consumer %d got %q", i, got.Text)
		}
	}
}

func TestLiveDetachesOnDisconnect(t *testing.T) {
	hub, addr := newTestServer(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/v1/live", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	waitFor(t, "consumer attach", func() bool { return hub.Consumers() == 1 })
	conn.Close()
	waitFor(t, "consumer detach", func() bool { return hub.Consumers() == 0 })
}
