package transcript_test

import (
	"fmt"
	"testing"

	"github.com/MrWong99/nextbest/internal/transcript"
)

// turnsOf builds turns with the given speakers; each turn's text is "tN ".
func turnsOf(speakers ...int) []transcript.Turn {
	turns := make([]transcript.Turn, len(speakers))
	for i, s := range speakers {
		turns[i] = transcript.Turn{Text: fmt.Sprintf("t%d ", i), Speaker: s}
	}
	return turns
}

func texts(turns []transcript.Turn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.Text
	}
	return out
}

func TestBuildWindows_CustomerFirst(t *testing.T) {
	windows := transcript.BuildWindows(turnsOf(1, 0, 1, 0, 1, 0))
	if len(windows) != 1 {
		t.Fatalf("got %d windows, want 1", len(windows))
	}
	w := windows[0]
	if got := fmt.Sprint(texts(w.Interactions)); got != "[t0  t1  t2  t3  t4 ]" {
		t.Errorf("interactions = %s", got)
	}
	if w.Actual.Text != "t5 " {
		t.Errorf("Actual = %q, want t5", w.Actual.Text)
	}
}

func TestBuildWindows_AgentFirstExtends(t *testing.T) {
	// The fifth turn is an agent turn, so the window takes one more turn.
	windows := transcript.BuildWindows(turnsOf(0, 1, 0, 1, 0, 1, 0))
	if len(windows) != 1 {
		t.Fatalf("got %d windows, want 1", len(windows))
	}
	w := windows[0]
	if len(w.Interactions) != 6 {
		t.Fatalf("got %d interactions, want 6", len(w.Interactions))
	}
	if w.Interactions[5].Speaker != transcript.ChannelCustomer {
		t.Errorf("window should end on a customer turn, got speaker %d", w.Interactions[5].Speaker)
	}
	if w.Actual.Text != "t6 " || w.Actual.Speaker != transcript.ChannelAgent {
		t.Errorf("Actual = %+v, want agent turn t6", w.Actual)
	}
}

func TestBuildWindows_SeedsNextWindow(t *testing.T) {
	speakers := make([]int, 20)
	for i := range speakers {
		speakers[i] = (i + 1) % 2 // 1, 0, 1, 0, ...
	}
	turns := turnsOf(speakers...)
	windows := transcript.BuildWindows(turns)
	if len(windows) < 2 {
		t.Fatalf("got %d windows, want at least 2", len(windows))
	}
	for i := 1; i < len(windows); i++ {
		prev, cur := windows[i-1], windows[i]
		if cur.Interactions[0] != prev.Actual {
			t.Errorf("window %d does not start with window %d's ground truth", i, i-1)
		}
		if n := len(cur.Interactions); n != 6 && n != 7 {
			t.Errorf("seeded window %d has %d interactions, want 6 or 7", i, n)
		}
	}
}

func TestBuildWindows_GroundTruthFollowsWindow(t *testing.T) {
	turns := turnsOf(1, 0, 1, 0, 1, 0, 1, 0, 1, 0, 1, 0, 1, 0, 1, 0)
	index := make(map[string]int, len(turns))
	for i, tr := range turns {
		index[tr.Text] = i
	}
	for i, w := range transcript.BuildWindows(turns) {
		if len(w.Interactions) == 0 {
			t.Fatalf("window %d is empty", i)
		}
		last := w.Interactions[len(w.Interactions)-1]
		if index[w.Actual.Text] != index[last.Text]+1 {
			t.Errorf("window %d: ground truth %q does not follow %q", i, w.Actual.Text, last.Text)
		}
	}
}

func TestBuildWindows_TooShort(t *testing.T) {
	for n := 0; n <= 5; n++ {
		speakers := make([]int, n)
		for i := range speakers {
			speakers[i] = (i + 1) % 2
		}
		if got := transcript.BuildWindows(turnsOf(speakers...)); len(got) != 0 {
			t.Errorf("%d turns: got %d windows, want 0", n, len(got))
		}
	}
}

func TestActualResponses(t *testing.T) {
	windows := []transcript.Window{
		{Interactions: turnsOf(1), Actual: transcript.Turn{Text: "first "}},
		{Interactions: turnsOf(0), Actual: transcript.Turn{Text: "second "}},
	}
	got := transcript.ActualResponses(windows)
	if len(got) != 2 || got[0] != "first " || got[1] != "second " {
		t.Errorf("ActualResponses = %q", got)
	}
	if got := transcript.ActualResponses(nil); len(got) != 0 {
		t.Errorf("expected empty result, got %q", got)
	}
}
