// Package knol derives stable card identities from card content.
package knol

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/conorfennell/medstudy/internal/domain"
)

func normalizePart(part string) string {
	p := strings.ToLower(part)
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, "\r\n", "\n")
	return p
}

// Normalize concatenates the card's content after cleaning each part.
// Options and explanation only take part when present, so plain
// question-answer cards keep the identity they always had. The deck is not
// part of the identity: moving a card between files keeps its history.
func Normalize(card domain.Card) string {
	parts := []string{
		normalizePart(card.Question),
		normalizePart(card.Answer),
		normalizePart(card.Context),
	}
	for _, o := range card.Options {
		marker := "o:"
		if o.Correct {
			marker = "o*:"
		}
		parts = append(parts, marker+normalizePart(o.Text))
	}
	if e := normalizePart(card.Explanation); e != "" {
		parts = append(parts, "e:"+e)
	}
	return strings.Join(parts, "\n")
}

// Hash takes a card, normalizes it, and returns its SHA-256 hash as a hex string.
func Hash(card domain.Card) string {
	hashBytes := sha256.Sum256([]byte(Normalize(card)))
	return fmt.Sprintf("%x", hashBytes)
}
