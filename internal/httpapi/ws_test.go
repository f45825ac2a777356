package httpapi

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haulbit/haulbit/pkg/protocol"
)

func dialEvents(t *testing.T, e *testEnv, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/upload/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestEventStream(t *testing.T) {
	e := newTestEnv(t)
	conn := dialEvents(t, e, "")

	wantStatus(t, e.postMultipart(t, "ws1", 0, 2, "f.txt", []byte("x")), http.StatusOK)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev protocol.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if ev.Type != protocol.EventChunk || ev.SessionID != "ws1" || ev.Received != 1 || ev.TotalChunks != 2 {
		t.Errorf("event = %+v", ev)
	}
}

func TestEventStreamSessionFilter(t *testing.T) {
	e := newTestEnv(t)
	conn := dialEvents(t, e, "?sessionId=wanted")

	wantStatus(t, e.postMultipart(t, "other", 0, 1, "", []byte("x")), http.StatusOK)
	wantStatus(t, e.postMultipart(t, "wanted", 0, 1, "", []byte("y")), http.StatusOK)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev protocol.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if ev.SessionID != "wanted" {
		t.Errorf("sessionID = %q, filtered stream must skip other sessions", ev.SessionID)
	}
}
