package main

import (
	_ "embed"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type ClientMessage struct {
	Type     string `json:"type"`                // "create", "join", "start", "flip", "check_match", "chat_message"
	Username string `json:"username,omitempty"`  // create / join
	Code     string `json:"code,omitempty"`      // join / start
	RoomCode string `json:"room_code,omitempty"` // flip / check_match / chat_message
	Index    int    `json:"index"`               // flip
	Indices  []int  `json:"indices,omitempty"`   // check_match
	Message  string `json:"message,omitempty"`   // chat_message
}

// Client is one live websocket connection. The id is its identity for the
// lifetime of the connection; rooms bind usernames to it.
type Client struct {
	conn *websocket.Conn
	send chan any
	id   string
}

// trySend queues msg for a client that may not be a room member yet,
// dropping the message rather than blocking on a full buffer.
func trySend(c *Client, msg any) {
	select {
	case c.send <- msg:
	default:
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// serveWSForRegistry upgrades the connection, assigns it an identity, and
// runs the read pump against the shared registry.
func serveWSForRegistry(cfg *Config, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn: conn,
			send: make(chan any, 8),
			id:   uuid.NewString(),
		}

		go client.writePump()
		client.readPump(cfg, reg)
	}
}

func (c *Client) readPump(cfg *Config, reg *Registry) {
	// The send channel is closed here and nowhere else, once the client is
	// out of every room, so the write pump always exits and nothing can
	// send on a closed channel.
	defer func() {
		reg.disconnect(cfg, c)
		close(c.send)
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "create":
			if msg.Username == "" {
				continue
			}
			room := reg.createRoom(c, msg.Username)
			trySend(c, RoomCreatedMessage{
				Type:      "room_created",
				Code:      room.code,
				Username:  msg.Username,
				IsCreator: true,
			})
			logf(cfg, "GAMES: Player %q created room %s", msg.Username, room.code)

		case "join":
			if msg.Username == "" {
				continue
			}
			code := strings.ToUpper(msg.Code)
			room, ok := reg.getRoom(code)
			if !ok {
				trySend(c, ErrorMessage{
					Type:    "join_error",
					Message: "Room code '" + code + "' not found.",
				})
				continue
			}
			room.join(cfg, c, msg.Username)

		case "start":
			if room, ok := reg.getRoom(strings.ToUpper(msg.Code)); ok {
				room.start(cfg, c)
			}

		case "flip":
			if room, ok := reg.getRoom(msg.RoomCode); ok {
				room.flip(c, msg.Index)
			}

		case "check_match":
			if len(msg.Indices) != 2 {
				continue
			}
			if room, ok := reg.getRoom(msg.RoomCode); ok {
				room.checkMatch(cfg, c, msg.Indices[0], msg.Indices[1])
			}

		case "chat_message":
			if room, ok := reg.getRoom(msg.RoomCode); ok {
				room.chat(c, msg.Message)
			}

		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current room URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	code := ps.ByName("code")
	if code == "" {
		http.Error(w, "missing room code", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../room/:code/qr; strip trailing "/qr" to get the room URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// ---- Static file paths ----

//go:embed match/index.html
var indexHTML []byte

//go:embed match/app.css
var matchboxCSS []byte

//go:embed match/app.js
var matchboxJS []byte

func getIndexHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(indexHTML)
	}
}

func getCssHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(matchboxCSS)
	}
}

func getJsHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(matchboxJS)
	}
}

// registerMatchGame sets up routes so that:
//   - $path                  → HTML client
//   - $path/room/:code       → HTML client with the room code prefilled
//   - $path/ws               → shared websocket endpoint for all rooms
//   - $path/room/:code/qr    → PNG QR code for that room URL
func registerMatchGame(cfg *Config, path string, mux *httprouter.Router) {
	reg := newRegistry(cfg.sessionTimeout)

	// Client views
	mux.GET(cfg.prefix+path, getIndexHandler(cfg))
	mux.GET(cfg.prefix+path+"/room/:code", getIndexHandler(cfg))

	// Shared assets (no room code in route)
	mux.GET(cfg.prefix+"/assets/match/app.css", getCssHandler(cfg))
	mux.GET(cfg.prefix+"/assets/match/app.js", getJsHandler(cfg))

	// One websocket for every room
	mux.GET(cfg.prefix+path+"/ws", serveWSForRegistry(cfg, reg))

	// Per-room QR code
	mux.GET(cfg.prefix+path+"/room/:code/qr", qrHandler)
}
