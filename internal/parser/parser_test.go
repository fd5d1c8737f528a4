package parser

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name          string
		input         string
		expectedCards int
		expectedQ     string
		expectedA     string
		expectedC     string
		expectedE     string
	}{
		{
			name:          "Simple Q&A",
			input:         "Q: Which artery supplies the SA node in most people?\nA: Right coronary artery",
			expectedCards: 1,
			expectedQ:     "Which artery supplies the SA node in most people?",
			expectedA:     "Right coronary artery",
		},
		{
			name:          "Simple Q, A, and C",
			input:         "Q: Normal adult resting heart rate?\nA: 60-100 bpm\nC: Vital signs",
			expectedCards: 1,
			expectedQ:     "Normal adult resting heart rate?",
			expectedA:     "60-100 bpm",
			expectedC:     "Vital signs",
		},
		{
			name: "Multiline Answer",
			input: `
Q: What are the layers of the heart wall?
A: Endocardium
Myocardium
Epicardium
`,
			expectedCards: 1,
			expectedQ:     "What are the layers of the heart wall?",
			expectedA:     "Endocardium\nMyocardium\nEpicardium",
		},
		{
			name: "Two Cards",
			input: `
Q: First question
A: First answer

Q: Second question
A: Second answer
`,
			expectedCards: 2,
		},
		{
			name: "Separator ends a card",
			input: `
Q: First question
A: First answer
---
Some notes that belong to no card.
---
Q: Second question
`,
			expectedCards: 2,
		},
		{
			name:          "No cards, just text",
			input:         "This is a file with no questions.",
			expectedCards: 0,
		},
		{
			name:          "Prefixes with no space",
			input:         "Q:Question\nA:Answer",
			expectedCards: 1,
			expectedQ:     "Question",
			expectedA:     "Answer",
		},
		{
			name: "Explanation spans lines",
			input: `Q: First-line drug for anaphylaxis?
A: Adrenaline
E: Intramuscular adrenaline
reverses airway oedema.`,
			expectedCards: 1,
			expectedQ:     "First-line drug for anaphylaxis?",
			expectedA:     "Adrenaline",
			expectedE:     "Intramuscular adrenaline\nreverses airway oedema.",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cards, err := Parse(strings.NewReader(tc.input))
			if err != nil {
				t.Fatalf("Parse() returned an unexpected error: %v", err)
			}

			if len(cards) != tc.expectedCards {
				t.Fatalf("Expected %d cards, but got %d", tc.expectedCards, len(cards))
			}

			if tc.expectedCards == 1 {
				card := cards[0]
				if card.Question != tc.expectedQ {
					t.Errorf("Expected Question to be '%s', but got '%s'", tc.expectedQ, card.Question)
				}
				if card.Answer != tc.expectedA {
					t.Errorf("Expected Answer to be '%s', but got '%s'", tc.expectedA, card.Answer)
				}
				if card.Context != tc.expectedC {
					t.Errorf("Expected Context to be '%s', but got '%s'", tc.expectedC, card.Context)
				}
				if card.Explanation != tc.expectedE {
					t.Errorf("Expected Explanation to be '%s', but got '%s'", tc.expectedE, card.Explanation)
				}
			}
		})
	}
}

func TestParseOptions(t *testing.T) {
	input := `Q: Which electrolyte abnormality causes peaked T waves?
O: Hypokalaemia
O*: Hyperkalaemia
O: Hypocalcaemia
E: Peaked T waves are an early ECG sign of hyperkalaemia.
---
Q: Flashcard only
A: No options here`

	cards, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() returned an unexpected error: %v", err)
	}
	if len(cards) != 2 {
		t.Fatalf("Expected 2 cards, but got %d", len(cards))
	}

	q := cards[0]
	if len(q.Options) != 3 {
		t.Fatalf("Expected 3 options, but got %d", len(q.Options))
	}
	wantIDs := []string{"a", "b", "c"}
	for i, o := range q.Options {
		if o.ID != wantIDs[i] {
			t.Errorf("Expected option %d to have id '%s', but got '%s'", i, wantIDs[i], o.ID)
		}
	}
	if id, ok := q.CorrectOption(); !ok || id != "b" {
		t.Errorf("Expected correct option 'b', but got '%s' (%v)", id, ok)
	}
	if q.Options[1].Text != "Hyperkalaemia" {
		t.Errorf("Expected option text 'Hyperkalaemia', but got '%s'", q.Options[1].Text)
	}
	if !q.IsQuestion() {
		t.Error("Expected the first card to be usable as a quiz question")
	}
	if q.Explanation != "Peaked T waves are an early ECG sign of hyperkalaemia." {
		t.Errorf("Unexpected explanation '%s'", q.Explanation)
	}
	if cards[1].IsQuestion() {
		t.Error("Expected the second card not to be a quiz question")
	}
}

func TestParseFileSetsDeck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cardiology.md")
	if err := os.WriteFile(path, []byte("Q: One\nA: 1\n\nQ: Two\nA: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cards, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile() returned an unexpected error: %v", err)
	}
	if len(cards) != 2 {
		t.Fatalf("Expected 2 cards, but got %d", len(cards))
	}
	for _, c := range cards {
		if c.Deck != "cardiology" {
			t.Errorf("Expected deck 'cardiology', but got '%s'", c.Deck)
		}
	}
}
