package main

import (
	"crypto/rand"
	"sync"
	"time"
)

const (
	roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	roomCodeLength   = 4
)

// Registry owns the mapping of room code to Room. A code is only unique
// among live rooms; once a room is gone its code may be handed out again.
type Registry struct {
	mu             sync.Mutex
	rooms          map[string]*Room
	sessionTimeout time.Duration
}

func newRegistry(sessionTimeout time.Duration) *Registry {
	reg := &Registry{
		rooms:          make(map[string]*Room),
		sessionTimeout: sessionTimeout,
	}
	if sessionTimeout > 0 {
		go reg.reaperLoop()
	}
	return reg
}

// newRoomCodeLocked generates a crypto-random room code that doesn't
// collide with any live room. Assumes reg.mu is held.
func (reg *Registry) newRoomCodeLocked() string {
	for {
		buf := make([]byte, roomCodeLength)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, roomCodeLength)
		for i := range out {
			out[i] = roomCodeAlphabet[int(buf[i])%len(roomCodeAlphabet)]
		}
		code := string(out)

		if _, exists := reg.rooms[code]; !exists {
			return code
		}
	}
}

// createRoom allocates a code and inserts a new unstarted room holding
// only its creator.
func (reg *Registry) createRoom(c *Client, username string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	code := reg.newRoomCodeLocked()
	room := newRoom(code, c, username)
	reg.rooms[code] = room

	return room
}

func (reg *Registry) getRoom(code string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[code]
	return room, ok
}

// removeIfEmpty evicts the room if its last player is gone.
func (reg *Registry) removeIfEmpty(code string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[code]
	if !ok {
		return
	}

	room.mu.Lock()
	empty := len(room.players) == 0
	room.mu.Unlock()

	if empty {
		delete(reg.rooms, code)
	}
}

// disconnect unbinds the client from every room holding it, evicting
// rooms that empty out. Safe to call for clients that never joined a
// room, and for connections already unbound.
func (reg *Registry) disconnect(cfg *Config, c *Client) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for code, room := range reg.rooms {
		found, empty := room.disconnect(cfg, c)
		if !found {
			continue
		}
		if empty {
			delete(reg.rooms, code)
			logf(cfg, "GAMES: Room %s closed", code)
		}
	}
}

// reaperLoop periodically removes rooms idle longer than sessionTimeout.
func (reg *Registry) reaperLoop() {
	ticker := time.NewTicker(reg.sessionTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-reg.sessionTimeout)

		reg.mu.Lock()
		for code, room := range reg.rooms {
			room.mu.Lock()
			last := room.lastActive
			room.mu.Unlock()

			if last.Before(cutoff) {
				delete(reg.rooms, code)
				go room.closeAll()
			}
		}
		reg.mu.Unlock()
	}
}
