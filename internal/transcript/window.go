package transcript

// windowLimit is the counter value after which the next turn closes the
// window as its ground truth.
const windowLimit = 4

// BuildWindows groups turns into interaction windows.
//
// Turns are appended to the window in progress while the counter is at most
// four. When the turn that would take the counter past four is an agent turn,
// the counter is held so one more turn is collected; windows therefore
// prefer to end on a customer turn. The first turn seen after the counter
// passes four becomes the window's ground truth and also seeds the next
// window. A trailing window that never received a ground truth is dropped.
//
// Turns produced by [AggregateTurns] alternate speakers, so with two channels
// the hold fires at most once per window.
func BuildWindows(turns []Turn) []Window {
	var (
		windows []Window
		current []Turn
		counter int
	)
	for _, t := range turns {
		if counter <= windowLimit {
			current = append(current, t)
			if counter == windowLimit && t.Speaker == ChannelAgent {
				counter--
			}
			counter++
			continue
		}

		windows = append(windows, Window{Interactions: current, Actual: t})
		current = []Turn{t}
		counter = 0
	}
	return windows
}

// ActualResponses returns the ground-truth text of each window, in order.
func ActualResponses(windows []Window) []string {
	out := make([]string, len(windows))
	for i, w := range windows {
		out[i] = w.Actual.Text
	}
	return out
}
