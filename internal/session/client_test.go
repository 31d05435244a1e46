package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestDeliverWritesOneFramePerPayload(t *testing.T) {
	upgraded := make(chan *Client, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := Upgrade(w, r)
		if err != nil {
			return
		}
		upgraded <- c
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	client := <-upgraded
	defer client.Close()

	// Queue several payloads at once; each must arrive as its own frame
	// holding exactly one JSON document.
	for i := 0; i < 3; i++ {
		client.Deliver([]byte(fmt.Sprintf(`{"type":"ping","seq":%d}`, i)))
	}

	for i := 0; i < 3; i++ {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, frame, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage %d: %v", i, err)
		}
		var event map[string]any
		if err := json.Unmarshal(frame, &event); err != nil {
			t.Fatalf("Frame %d is not a single JSON document: %q", i, frame)
		}
		if int(event["seq"].(float64)) != i {
			t.Errorf("Expected seq %d, got %v", i, event["seq"])
		}
	}
}
