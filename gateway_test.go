package main

import (
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

func newTestServer(t *testing.T, cfg *Config) *httptest.Server {
	t.Helper()

	mux := httprouter.New()
	registerMatchGame(cfg, "/match", mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/match/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()

	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("failed to write %q event: %v", msg.Type, err)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn, want string) map[string]any {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("failed to read %q event: %v", want, err)
	}
	if msg["type"] != want {
		t.Fatalf("expected %q event, got %v", want, msg)
	}

	return msg
}

func cardStrings(t *testing.T, msg map[string]any) []string {
	t.Helper()

	raw, ok := msg["cards"].([]any)
	if !ok {
		t.Fatalf("expected a cards array, got %v", msg)
	}
	cards := make([]string, len(raw))
	for i, card := range raw {
		cards[i] = card.(string)
	}

	return cards
}

func TestWebSocketFullGame(t *testing.T) {
	cfg := &Config{pairs: 2}
	srv := newTestServer(t, cfg)

	ann := dialWS(t, srv)
	bo := dialWS(t, srv)

	sendEvent(t, ann, ClientMessage{Type: "create", Username: "Ann"})
	created := readEvent(t, ann, "room_created")
	code := created["code"].(string)
	if created["is_creator"] != true {
		t.Error("expected the creator flag to be set")
	}

	sendEvent(t, bo, ClientMessage{Type: "join", Username: "Bo", Code: code})
	readEvent(t, bo, "player_joined")
	readEvent(t, ann, "player_joined")

	sendEvent(t, ann, ClientMessage{Type: "start", Code: code})
	start := readEvent(t, ann, "start_game")
	if start["turn"] != "Ann" {
		t.Errorf("expected Ann's turn, got %v", start["turn"])
	}
	for i, card := range cardStrings(t, start) {
		if card != "" {
			t.Errorf("expected placeholder at index %d, got %q", i, card)
		}
	}

	// the full board rides along on every flip, so a client that watches
	// the wire can pair up indices; the test plays a perfect game with it
	sendEvent(t, ann, ClientMessage{Type: "flip", RoomCode: code, Index: 0})
	update := readEvent(t, ann, "update_board")
	cards := cardStrings(t, update)
	if len(cards) != 4 {
		t.Fatalf("expected 4 cards, got %d", len(cards))
	}

	pair := -1
	for i := 1; i < len(cards); i++ {
		if cards[i] == cards[0] {
			pair = i
			break
		}
	}
	if pair == -1 {
		t.Fatalf("expected a matching pair for %q in %v", cards[0], cards)
	}

	sendEvent(t, ann, ClientMessage{Type: "flip", RoomCode: code, Index: pair})
	readEvent(t, ann, "update_board")

	sendEvent(t, ann, ClientMessage{Type: "check_match", RoomCode: code, Indices: []int{0, pair}})
	result := readEvent(t, ann, "match_result")
	if result["match"] != true {
		t.Fatalf("expected a match, got %v", result)
	}
	if result["turn"] != "Ann" {
		t.Errorf("expected Ann to keep the turn, got %v", result["turn"])
	}
	readEvent(t, ann, "turn_update")
	readEvent(t, ann, "timer_reset")

	var rest []int
	for i := range cards {
		if i != 0 && i != pair {
			rest = append(rest, i)
		}
	}

	sendEvent(t, ann, ClientMessage{Type: "flip", RoomCode: code, Index: rest[0]})
	readEvent(t, ann, "update_board")
	sendEvent(t, ann, ClientMessage{Type: "flip", RoomCode: code, Index: rest[1]})
	readEvent(t, ann, "update_board")

	sendEvent(t, ann, ClientMessage{Type: "check_match", RoomCode: code, Indices: rest})
	readEvent(t, ann, "match_result")
	over := readEvent(t, ann, "game_over")
	if over["winner"] != "Ann" {
		t.Errorf("expected Ann to win, got %v", over["winner"])
	}
	scores := over["scores"].(map[string]any)
	if scores["Ann"] != float64(2) || scores["Bo"] != float64(0) {
		t.Errorf("unexpected final scores: %v", scores)
	}

	// every subscriber sees the same events in the same order
	for _, want := range []string{
		"start_game",
		"update_board", "update_board", "match_result", "turn_update", "timer_reset",
		"update_board", "update_board", "match_result", "game_over",
	} {
		readEvent(t, bo, want)
	}
}

func TestWebSocketJoinUnknownRoom(t *testing.T) {
	cfg := &Config{pairs: 2}
	srv := newTestServer(t, cfg)

	conn := dialWS(t, srv)

	sendEvent(t, conn, ClientMessage{Type: "join", Username: "Zed", Code: "zzzz"})
	errEvent := readEvent(t, conn, "join_error")

	// codes are uppercased before lookup
	if !strings.Contains(errEvent["message"].(string), "ZZZZ") {
		t.Errorf("expected the uppercased code in the error, got %v", errEvent["message"])
	}
}

func TestWebSocketChat(t *testing.T) {
	cfg := &Config{pairs: 2}
	srv := newTestServer(t, cfg)

	ann := dialWS(t, srv)

	sendEvent(t, ann, ClientMessage{Type: "create", Username: "Ann"})
	created := readEvent(t, ann, "room_created")
	code := created["code"].(string)

	sendEvent(t, ann, ClientMessage{Type: "chat_message", RoomCode: code, Message: "hello"})
	chat := readEvent(t, ann, "chat_message")
	if chat["username"] != "Ann" || chat["message"] != "hello" {
		t.Errorf("unexpected chat event: %v", chat)
	}
}

func TestWebSocketDisconnectBroadcastsPlayerLeft(t *testing.T) {
	cfg := &Config{pairs: 2}
	srv := newTestServer(t, cfg)

	ann := dialWS(t, srv)
	bo := dialWS(t, srv)

	sendEvent(t, ann, ClientMessage{Type: "create", Username: "Ann"})
	created := readEvent(t, ann, "room_created")
	code := created["code"].(string)

	sendEvent(t, bo, ClientMessage{Type: "join", Username: "Bo", Code: code})
	readEvent(t, ann, "player_joined")
	readEvent(t, bo, "player_joined")

	_ = bo.Close()

	left := readEvent(t, ann, "player_left")
	if left["username"] != "Bo" {
		t.Errorf("expected Bo to leave, got %v", left["username"])
	}
	players := left["players"].([]any)
	if len(players) != 1 || players[0] != "Ann" {
		t.Errorf("unexpected roster after leave: %v", players)
	}
}

func TestDisconnectReleasesPumps(t *testing.T) {
	cfg := &Config{pairs: 2}
	srv := newTestServer(t, cfg)

	before := runtime.NumGoroutine()

	for i := 0; i < 20; i++ {
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/match/ws"
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("failed to dial websocket: %v", err)
		}

		sendEvent(t, conn, ClientMessage{Type: "create", Username: "Ann"})
		readEvent(t, conn, "room_created")

		_ = conn.Close()
	}

	// both per-connection pumps should wind down once the socket is gone
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= before+2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Errorf("leaked goroutines after connect/disconnect cycles (before=%d after=%d)",
		before, runtime.NumGoroutine())
}

func TestQRRoute(t *testing.T) {
	cfg := &Config{pairs: 2}
	srv := newTestServer(t, cfg)

	resp, err := http.Get(srv.URL + "/match/room/AB12/qr")
	if err != nil {
		t.Fatalf("failed to fetch qr code: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if contentType := resp.Header.Get("Content-Type"); contentType != "image/png" {
		t.Errorf("expected image/png, got %q", contentType)
	}
}

func TestClientRoutes(t *testing.T) {
	cfg := &Config{pairs: 2}
	srv := newTestServer(t, cfg)

	for _, path := range []string{"/match", "/match/room/AB12", "/assets/match/app.js", "/assets/match/app.css"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("failed to fetch %s: %v", path, err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected status 200 for %s, got %d", path, resp.StatusCode)
		}
	}
}
