// Matchbox Memory Match Game
//
// Players join a shared room by 4-character code and take turns revealing
// paired tokens on a shuffled board. The server holds the authoritative
// board, validates every move, and broadcasts resulting state to the room.
//
// Features:
// - One websocket endpoint for all rooms: /match/ws
// - Rooms created on demand with random 4-char codes, collision-checked
// - First player to create a room is its creator and may start the game
// - Joining is open until the creator starts; membership then freezes
// - Usernames unique per room while in the lobby
// - Turn rotation with match-grants-another-turn scoring
// - At most two unresolved flips per turn; extra flips are ignored
// - start_game sends placeholder cards, never the hidden token identities
// - update_board carries the full card array (legacy wire contract; the
//   client is responsible for keeping unflipped tokens hidden)
// - Room chat, rebroadcast verbatim with the sender's bound username
// - Rooms are deleted when their last player disconnects
// - Idle rooms reaped after a configurable timeout
// - In-browser QR button to share a room, backed by go-qrcode

package main

import (
	"slices"
	"sync"
	"time"
)

// Messages sent to clients
type RoomCreatedMessage struct {
	Type      string `json:"type"` // "room_created"
	Code      string `json:"code"`
	Username  string `json:"username"`
	IsCreator bool   `json:"is_creator"`
}

type PlayerJoinedMessage struct {
	Type      string   `json:"type"` // "player_joined"
	Username  string   `json:"username"`
	Players   []string `json:"players"`
	IsCreator bool     `json:"is_creator"`
}

// ErrorMessage is sent only to the offending client ("join_error", "start_error")
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type StartGameMessage struct {
	Type    string         `json:"type"`  // "start_game"
	Cards   []string       `json:"cards"` // placeholders, one "" per position
	Flipped []bool         `json:"flipped"`
	Scores  map[string]int `json:"scores"`
	Turn    string         `json:"turn"`
	Players []string       `json:"players"`
}

type UpdateBoardMessage struct {
	Type    string   `json:"type"`    // "update_board"
	Flipped []int    `json:"flipped"` // indices revealed by this flip
	Cards   []string `json:"cards"`
}

type MatchResultMessage struct {
	Type    string         `json:"type"` // "match_result"
	Match   bool           `json:"match"`
	Indices []int          `json:"indices"`
	Scores  map[string]int `json:"scores"`
	Turn    string         `json:"turn"`
}

type TurnUpdateMessage struct {
	Type string `json:"type"` // "turn_update"
	Turn string `json:"turn"`
}

type TimerResetMessage struct {
	Type string `json:"type"` // "timer_reset"
}

type GameOverMessage struct {
	Type   string         `json:"type"` // "game_over"
	Winner string         `json:"winner"`
	Scores map[string]int `json:"scores"`
}

type ChatBroadcastMessage struct {
	Type     string `json:"type"` // "chat_message"
	Username string `json:"username"`
	Message  string `json:"message"`
}

type PlayerLeftMessage struct {
	Type     string   `json:"type"` // "player_left"
	Username string   `json:"username"`
	Players  []string `json:"players"`
}

// Room is one game session. All fields are guarded by mu; every handler
// holds it for the full mutation, so actions on a room are linearized and
// broadcasts go out in action order.
type Room struct {
	code string

	mu        sync.Mutex
	clients   map[*Client]bool
	players   []string          // join order doubles as turn order
	usernames map[string]string // connection id -> display name
	creatorID string

	board     []string
	revealed  []bool
	pending   []int // this turn's unresolved flips, at most two
	scores    map[string]int
	turnIndex int
	started   bool
	over      bool

	createdAt  time.Time
	lastActive time.Time
}

func newRoom(code string, creator *Client, username string) *Room {
	now := time.Now()

	return &Room{
		code:       code,
		clients:    map[*Client]bool{creator: true},
		players:    []string{username},
		usernames:  map[string]string{creator.id: username},
		creatorID:  creator.id,
		scores:     make(map[string]int),
		createdAt:  now,
		lastActive: now,
	}
}

// sendLocked queues msg for a single room member. A client too slow to
// keep up is dropped from the room and its socket closed; its read pump
// then tears the connection down, which is also what closes the send
// channel. Assumes r.mu is held.
func (r *Room) sendLocked(c *Client, msg any) {
	select {
	case c.send <- msg:
	default:
		delete(r.clients, c)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}
}

func (r *Room) broadcastLocked(msg any) {
	for client := range r.clients {
		r.sendLocked(client, msg)
	}
}

// Snapshots handed to broadcasts, so JSON encoding in the write pumps
// never races with later mutations.
func (r *Room) playersLocked() []string {
	return append([]string(nil), r.players...)
}

func (r *Room) cardsLocked() []string {
	return append([]string(nil), r.board...)
}

func (r *Room) scoresLocked() map[string]int {
	scores := make(map[string]int, len(r.scores))
	for player, score := range r.scores {
		scores[player] = score
	}
	return scores
}

func (r *Room) allRevealedLocked() bool {
	for _, up := range r.revealed {
		if !up {
			return false
		}
	}
	return true
}

// winnerLocked returns the first player in turn order holding the maximum
// score, which keeps ties deterministic.
func (r *Room) winnerLocked() string {
	winner := ""
	best := -1
	for _, player := range r.players {
		if r.scores[player] > best {
			winner = player
			best = r.scores[player]
		}
	}
	return winner
}

// join adds a player to an unstarted room and announces the new roster.
func (r *Room) join(cfg *Config, c *Client, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActive = time.Now()

	if r.started {
		trySend(c, ErrorMessage{
			Type:    "join_error",
			Message: "Game has already started.",
		})
		return
	}

	if slices.Contains(r.players, username) {
		trySend(c, ErrorMessage{
			Type:    "join_error",
			Message: "Username already taken in this room.",
		})
		return
	}

	r.players = append(r.players, username)
	r.usernames[c.id] = username
	r.clients[c] = true

	r.broadcastLocked(PlayerJoinedMessage{
		Type:      "player_joined",
		Username:  username,
		Players:   r.playersLocked(),
		IsCreator: c.id == r.creatorID,
	})

	logf(cfg, "GAMES: Player %q joined room %s", username, r.code)
}

// start builds the board and begins turn rotation. Only the creator may
// start; anyone else is ignored, since only the creator sees the button.
func (r *Room) start(cfg *Config, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActive = time.Now()

	if c.id != r.creatorID || r.started {
		return
	}

	if len(r.players) < 2 {
		trySend(c, ErrorMessage{
			Type:    "start_error",
			Message: "You need at least 2 players to start the game.",
		})
		return
	}

	r.board = newBoard(matchSymbols[:cfg.pairs])
	r.revealed = make([]bool, len(r.board))
	r.pending = nil
	r.scores = make(map[string]int, len(r.players))
	for _, player := range r.players {
		r.scores[player] = 0
	}
	r.turnIndex = 0
	r.started = true

	r.broadcastLocked(StartGameMessage{
		Type:    "start_game",
		Cards:   make([]string, len(r.board)),
		Flipped: append([]bool(nil), r.revealed...),
		Scores:  r.scoresLocked(),
		Turn:    r.players[r.turnIndex],
		Players: r.playersLocked(),
	})

	logf(cfg, "GAMES: Room %s started with %d players", r.code, len(r.players))
}

// flip reveals one position for the current player. Wrong-turn, re-flip,
// out-of-range, and third-flip attempts are silent no-ops.
func (r *Room) flip(c *Client, index int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActive = time.Now()

	if !r.started || r.over {
		return
	}
	if r.usernames[c.id] != r.players[r.turnIndex] {
		return
	}
	if index < 0 || index >= len(r.board) || r.revealed[index] {
		return
	}
	if len(r.pending) >= 2 {
		return
	}

	r.revealed[index] = true
	r.pending = append(r.pending, index)

	r.broadcastLocked(UpdateBoardMessage{
		Type:    "update_board",
		Flipped: []int{index},
		Cards:   r.cardsLocked(),
	})
}

// checkMatch resolves the current player's two pending flips. A match
// scores and keeps the turn; a miss hides both positions and rotates it.
func (r *Room) checkMatch(cfg *Config, c *Client, i1, i2 int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActive = time.Now()

	if !r.started || r.over {
		return
	}

	player := r.players[r.turnIndex]
	if r.usernames[c.id] != player {
		return
	}

	// Only the two pending flips may be resolved, in either order.
	if len(r.pending) != 2 {
		return
	}
	if !(r.pending[0] == i1 && r.pending[1] == i2) && !(r.pending[0] == i2 && r.pending[1] == i1) {
		return
	}
	r.pending = nil

	if r.board[i1] == r.board[i2] {
		r.scores[player]++

		r.broadcastLocked(MatchResultMessage{
			Type:    "match_result",
			Match:   true,
			Indices: []int{i1, i2},
			Scores:  r.scoresLocked(),
			Turn:    player,
		})

		if r.allRevealedLocked() {
			r.over = true
			winner := r.winnerLocked()
			r.broadcastLocked(GameOverMessage{
				Type:   "game_over",
				Winner: winner,
				Scores: r.scoresLocked(),
			})
			logf(cfg, "GAMES: Room %s over, won by %q", r.code, winner)
			return
		}

		r.broadcastLocked(TurnUpdateMessage{Type: "turn_update", Turn: player})
		r.broadcastLocked(TimerResetMessage{Type: "timer_reset"})
		return
	}

	r.revealed[i1] = false
	r.revealed[i2] = false
	r.turnIndex = (r.turnIndex + 1) % len(r.players)
	next := r.players[r.turnIndex]

	r.broadcastLocked(MatchResultMessage{
		Type:    "match_result",
		Match:   false,
		Indices: []int{i1, i2},
		Scores:  r.scoresLocked(),
		Turn:    next,
	})
	r.broadcastLocked(TurnUpdateMessage{Type: "turn_update", Turn: next})
	r.broadcastLocked(TimerResetMessage{Type: "timer_reset"})
}

// chat rebroadcasts a message verbatim under the sender's bound username.
func (r *Room) chat(c *Client, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActive = time.Now()

	username, ok := r.usernames[c.id]
	if !ok {
		username = "Guest"
	}

	r.broadcastLocked(ChatBroadcastMessage{
		Type:     "chat_message",
		Username: username,
		Message:  message,
	})
}

// disconnect unbinds a connection and removes its player. Returns whether
// the connection belonged to this room, and whether the room emptied out.
// Idempotent: a second call for the same connection is a no-op.
func (r *Room) disconnect(cfg *Config, c *Client) (found bool, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	username, ok := r.usernames[c.id]
	if !ok {
		return false, false
	}

	r.lastActive = time.Now()

	delete(r.usernames, c.id)
	delete(r.clients, c)

	removed := slices.Index(r.players, username)
	if removed >= 0 {
		// The current player's unresolved flips would otherwise stay
		// face-up with no one able to resolve them.
		if r.started && !r.over && removed == r.turnIndex {
			for _, i := range r.pending {
				r.revealed[i] = false
			}
			r.pending = nil
		}

		r.players = slices.Delete(r.players, removed, removed+1)

		// Keep turnIndex on the same player where possible; when the
		// current player leaves, the turn passes to the next in order.
		if removed < r.turnIndex {
			r.turnIndex--
		}
		if len(r.players) > 0 {
			r.turnIndex %= len(r.players)
		}
	}

	if len(r.players) == 0 {
		return true, true
	}

	r.broadcastLocked(PlayerLeftMessage{
		Type:     "player_left",
		Username: username,
		Players:  r.playersLocked(),
	})

	if r.started && !r.over {
		r.broadcastLocked(TurnUpdateMessage{Type: "turn_update", Turn: r.players[r.turnIndex]})
		r.broadcastLocked(TimerResetMessage{Type: "timer_reset"})
	}

	logf(cfg, "GAMES: Player %q left room %s", username, r.code)

	return true, false
}

// closeAll closes every member's socket (used by the reaper); each read
// pump then tears down its own connection.
func (r *Room) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for c := range r.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		delete(r.clients, c)
	}
}
