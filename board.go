package main

import (
	"crypto/rand"
)

// matchSymbols is the full symbol set; each board uses a prefix of it,
// sized by the --pairs flag.
var matchSymbols = []string{"🍎", "🍌", "🍇", "🍓", "🍒", "🍍", "🥝", "🍉"}

// newBoard duplicates each symbol once and returns a shuffled board of
// length 2*len(symbols).
func newBoard(symbols []string) []string {
	cards := make([]string, 0, len(symbols)*2)
	for _, s := range symbols {
		cards = append(cards, s, s)
	}

	// Fisher-Yates shuffle using crypto/rand
	for i := len(cards) - 1; i > 0; i-- {
		var b [1]byte
		if _, err := rand.Read(b[:]); err != nil {
			continue
		}
		j := int(b[0]) % (i + 1)
		cards[i], cards[j] = cards[j], cards[i]
	}

	return cards
}
