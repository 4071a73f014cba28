package games

// Players create or join a room with a short shareable code
// The creator starts the game once at least two players are present
// The server shuffles a board of paired symbols and keeps it secret
// On their turn, a player flips two cards; a matching pair scores a point and grants another turn
// A miss hides both cards again and passes the turn to the next player in join order
// When every pair is found, the player with the highest score wins (first joiner wins ties)

// Display formats:
// Grid of face-down cards, symbols shown while flipped or matched
// Sidebar with scores, current turn, and a best-effort turn timer

// Implementation details:
// - One websocket endpoint for all rooms; actions carry the room code
// - Server state is authoritative; wrong-turn or duplicate flips are ignored
// - Rooms are deleted when the last player leaves, or reaped when idle
