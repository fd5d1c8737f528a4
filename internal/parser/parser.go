// Package parser reads cards from markdown files.
//
// A card is a block of prefixed lines:
//
//	Q: question (may continue on following lines)
//	A: answer
//	C: context
//	O: a wrong option
//	O*: the correct option
//	E: explanation shown after a quiz answer
//
// A line holding only "---" ends the current card, as does a new "Q:".
// Option lines are single-line; everything else may span lines.
package parser

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/conorfennell/medstudy/internal/domain"
)

const (
	questionPrefix      = "Q:"
	answerPrefix        = "A:"
	contextPrefix       = "C:"
	correctOptionPrefix = "O*:"
	optionPrefix        = "O:"
	explanationPrefix   = "E:"
	separator           = "---"
)

type state int

const (
	seeking state = iota
	readingQuestion
	readingAnswer
	readingContext
	readingExplanation
	afterOption
)

// ParseFile reads a file from the given path and extracts all cards. The
// deck of every card is the file name without its extension.
func ParseFile(path string) ([]domain.Card, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cards, err := Parse(file)
	if err != nil {
		return nil, err
	}
	deck := DeckName(path)
	for i := range cards {
		cards[i].Deck = deck
	}
	return cards, nil
}

// DeckName derives a deck name from a card file path.
func DeckName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// optionID names the n-th option of a card: a, b, c...
func optionID(n int) string {
	if n < 26 {
		return string(rune('a' + n))
	}
	return string(rune('a'+n/26-1)) + string(rune('a'+n%26))
}

func trimPrefix(line, prefix string) string {
	content := line[len(prefix):]
	return strings.TrimPrefix(content, " ")
}

// Parse reads from an io.Reader and extracts all cards.
func Parse(r io.Reader) ([]domain.Card, error) {
	scanner := bufio.NewScanner(r)
	var cards []domain.Card
	var currentCard domain.Card
	var currentBlock []string
	currentState := seeking

	flushBlock := func() {
		if len(currentBlock) == 0 {
			return
		}
		content := strings.TrimRight(strings.Join(currentBlock, "\n"), "\n")
		switch currentState {
		case readingQuestion:
			currentCard.Question = content
		case readingAnswer:
			currentCard.Answer = content
		case readingContext:
			currentCard.Context = content
		case readingExplanation:
			currentCard.Explanation = content
		}
		currentBlock = nil
	}

	finishCard := func() {
		flushBlock()
		if currentCard.Question != "" {
			cards = append(cards, currentCard)
		}
		currentCard = domain.Card{}
		currentState = seeking
	}

	for scanner.Scan() {
		line := scanner.Text()

		if line == separator {
			finishCard()
			continue
		}

		switch {
		case strings.HasPrefix(line, questionPrefix):
			if currentState != seeking {
				finishCard()
			}
			currentState = readingQuestion
			currentBlock = append(currentBlock, trimPrefix(line, questionPrefix))
		case strings.HasPrefix(line, answerPrefix):
			flushBlock()
			currentState = readingAnswer
			currentBlock = append(currentBlock, trimPrefix(line, answerPrefix))
		case strings.HasPrefix(line, contextPrefix):
			flushBlock()
			currentState = readingContext
			currentBlock = append(currentBlock, trimPrefix(line, contextPrefix))
		case strings.HasPrefix(line, explanationPrefix):
			flushBlock()
			currentState = readingExplanation
			currentBlock = append(currentBlock, trimPrefix(line, explanationPrefix))
		case strings.HasPrefix(line, correctOptionPrefix), strings.HasPrefix(line, optionPrefix):
			if currentState == seeking {
				continue
			}
			flushBlock()
			correct := strings.HasPrefix(line, correctOptionPrefix)
			prefix := optionPrefix
			if correct {
				prefix = correctOptionPrefix
			}
			currentCard.Options = append(currentCard.Options, domain.Option{
				ID:      optionID(len(currentCard.Options)),
				Text:    strings.TrimSpace(trimPrefix(line, prefix)),
				Correct: correct,
			})
			currentState = afterOption
		default:
			if currentState != seeking && currentState != afterOption {
				currentBlock = append(currentBlock, line)
			}
		}
	}

	finishCard() // Finish the very last card in the file

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return cards, nil
}
