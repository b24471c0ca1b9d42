package transcript_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/nextbest/internal/transcript"
)

// rowsOf builds rows from alternating (channel, phrase) pairs.
func rowsOf(pairs ...any) []transcript.Row {
	rows := make([]transcript.Row, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		rows = append(rows, transcript.Row{Channel: pairs[i].(int), Phrase: pairs[i+1].(string)})
	}
	return rows
}

func TestAggregateTurns(t *testing.T) {
	tests := []struct {
		name string
		rows []transcript.Row
		want []transcript.Turn
	}{
		{
			name: "merges consecutive phrases",
			rows: rowsOf(0, "Hello", 0, "there", 1, "Hi"),
			want: []transcript.Turn{
				{Text: "Hello there ", Speaker: 0},
				{Text: "Hi ", Speaker: 1},
			},
		},
		{
			name: "customer first",
			rows: rowsOf(1, "Hi", 1, "anyone?", 0, "Yes", 1, "Great"),
			want: []transcript.Turn{
				{Text: "Hi anyone? ", Speaker: 1},
				{Text: "Yes ", Speaker: 0},
				{Text: "Great ", Speaker: 1},
			},
		},
		{
			name: "single row",
			rows: rowsOf(0, "Hello"),
			want: []transcript.Turn{{Text: "Hello ", Speaker: 0}},
		},
		{
			name: "single channel",
			rows: rowsOf(1, "a", 1, "b", 1, "c"),
			want: []transcript.Turn{{Text: "a b c ", Speaker: 1}},
		},
		{
			name: "third channel tracked as a speaker",
			rows: rowsOf(0, "Hello", 2, "beep", 1, "Hi"),
			want: []transcript.Turn{
				{Text: "Hello ", Speaker: 0},
				{Text: "beep ", Speaker: 2},
				{Text: "Hi ", Speaker: 1},
			},
		},
		{
			name: "empty",
			rows: nil,
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := transcript.AggregateTurns(tt.rows)
			if err != nil {
				t.Fatalf("AggregateTurns: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d turns, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("turn %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestAggregateTurns_NoAdjacentSameSpeaker(t *testing.T) {
	rows := rowsOf(0, "a", 0, "b", 1, "c", 0, "d", 0, "e", 1, "f", 1, "g", 0, "h")
	turns, err := transcript.AggregateTurns(rows)
	if err != nil {
		t.Fatalf("AggregateTurns: %v", err)
	}
	for i := 1; i < len(turns); i++ {
		if turns[i].Speaker == turns[i-1].Speaker {
			t.Errorf("turns %d and %d share speaker %d", i-1, i, turns[i].Speaker)
		}
	}
	// Every phrase appears exactly once, in order.
	var joined string
	for _, tr := range turns {
		joined += tr.Text
	}
	if joined != "a b c d e f g h " {
		t.Errorf("phrases not preserved in order: %q", joined)
	}
}

func TestAggregateTurns_StrictChannels(t *testing.T) {
	rows := rowsOf(0, "Hello", 1, "Hi", 2, "beep")

	_, err := transcript.AggregateTurns(rows, transcript.WithStrictChannels())
	var pe *transcript.ParsingError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParsingError, got %v", err)
	}
	if pe.Row != 2 {
		t.Errorf("Row = %d, want 2", pe.Row)
	}
	if pe.Path != "" {
		t.Errorf("Path = %q, want empty", pe.Path)
	}

	turns, err := transcript.AggregateTurns(rows[:2], transcript.WithStrictChannels())
	if err != nil {
		t.Fatalf("strict mode rejected valid channels: %v", err)
	}
	if len(turns) != 2 {
		t.Errorf("got %d turns, want 2", len(turns))
	}
}
