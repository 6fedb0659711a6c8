package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/trackfeedback/api/internal/model"
	"github.com/trackfeedback/api/internal/stem"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func receive(t *testing.T, c *Client) map[string]any {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		if !ok {
			t.Fatal("client channel closed")
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("invalid message %s: %v", data, err)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return nil
}

func TestHubRoutesMessagesByJob(t *testing.T) {
	h := startHub(t)
	a := NewClient("job-a", nil)
	b := NewClient("job-b", nil)
	h.Register(a)
	h.Register(b)

	h.BroadcastProgress("job-a", 50, model.RenderStatusRendering, "Rendering stems...")
	h.BroadcastStem("job-a", model.StemArtifact{Label: "Kick", StemType: stem.Drums, Order: 1})
	h.BroadcastError("job-b", "RENDER_FAILED", "boom")

	progress := receive(t, a)
	if progress["type"] != "progress" || progress["status"] != "RENDERING" || progress["progress"] != float64(50) {
		t.Errorf("progress = %v", progress)
	}
	stemMsg := receive(t, a)
	inner, _ := stemMsg["stem"].(map[string]any)
	if stemMsg["type"] != "stem" || inner["stemType"] != "DRUMS" || inner["label"] != "Kick" {
		t.Errorf("stem = %v", stemMsg)
	}
	errMsg := receive(t, b)
	if errMsg["type"] != "error" {
		t.Errorf("error = %v", errMsg)
	}
	select {
	case extra := <-a.Send:
		t.Errorf("job-a received foreign message %s", extra)
	default:
	}
}

func TestHubUnregisterClosesClient(t *testing.T) {
	h := startHub(t)
	c := NewClient("job", nil)
	h.Register(c)
	if n := h.Subscribers("job"); n != 1 {
		t.Fatalf("subscribers = %d", n)
	}
	h.Unregister(c)
	if _, ok := <-c.Send; ok {
		t.Error("expected closed channel")
	}
	// Unregistering twice is harmless.
	h.Unregister(c)
	if n := h.Subscribers("job"); n != 0 {
		t.Errorf("subscribers = %d", n)
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	h := startHub(t)
	c := &Client{JobID: "job", Send: make(chan []byte)}
	h.Register(c)
	h.BroadcastComplete("job", map[string]int{"stems": 4})

	deadline := time.Now().Add(2 * time.Second)
	for h.Subscribers("job") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("slow client was not dropped")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubStoppedDoesNotBlockClients(t *testing.T) {
	h := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	live := NewClient("job", nil)
	h.Register(live)
	cancel()
	<-stopped

	if _, ok := <-live.Send; ok {
		t.Error("stopping the hub should close registered clients")
	}

	returned := make(chan struct{})
	late := NewClient("job", nil)
	go func() {
		h.Register(late)
		h.Unregister(late)
		h.Unregister(live)
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Register/Unregister blocked after the hub stopped")
	}
	if _, ok := <-late.Send; ok {
		t.Error("late client channel should be closed")
	}
}
