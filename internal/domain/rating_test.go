package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseRating(t *testing.T) {
	testCases := []struct {
		input   string
		want    Rating
		wantErr bool
	}{
		{input: "1", want: Again},
		{input: "good", want: Good},
		{input: "Easy", want: Easy},
		{input: "HARD", want: Hard},
		{input: "0", wantErr: true},
		{input: "5", wantErr: true},
		{input: "meh", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseRating(tc.input)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidRating) {
					t.Fatalf("Expected ErrInvalidRating, but got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRating(%q) returned an unexpected error: %v", tc.input, err)
			}
			if got != tc.want {
				t.Errorf("Expected %v, but got %v", tc.want, got)
			}
		})
	}
}

func TestRatingJSON(t *testing.T) {
	data, err := json.Marshal(Good)
	if err != nil {
		t.Fatalf("Marshal returned an unexpected error: %v", err)
	}
	if string(data) != "3" {
		t.Errorf("Expected Good to encode as 3, but got %s", data)
	}

	var r Rating
	if err := json.Unmarshal([]byte(`"again"`), &r); err != nil {
		t.Fatalf("Unmarshal returned an unexpected error: %v", err)
	}
	if r != Again {
		t.Errorf("Expected Again, but got %v", r)
	}

	if err := json.Unmarshal([]byte(`9`), &r); !errors.Is(err, ErrInvalidRating) {
		t.Errorf("Expected ErrInvalidRating for 9, but got %v", err)
	}
	if _, err := json.Marshal(Rating(0)); err == nil {
		t.Error("Expected an error when marshalling an invalid rating")
	}
}
