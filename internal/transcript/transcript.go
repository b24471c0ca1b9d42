// Package transcript turns call-center transcript exports into conversational
// turns and bounded interaction windows suitable for a chat-completion model.
//
// The pipeline is:
//
//  1. [Load] reads the tab-delimited export into a sequence of [Row] values.
//  2. [AggregateTurns] merges consecutive same-channel rows into [Turn] values.
//  3. [BuildWindows] groups turns into [Window] values, each paired with the
//     turn that actually followed it (the ground truth).
//  4. [ToMessages] projects a window into role-tagged chat messages.
//
// [Normalize] cleans text before it is embedded or displayed.
//
// Every function operates only on caller-supplied data and keeps no state
// between calls, so windows may be processed concurrently by the caller.
package transcript

// Speaker channel values used by the transcript export.
const (
	// ChannelAgent identifies the agent (or IVR/system) side of the call.
	ChannelAgent = 0

	// ChannelCustomer identifies the caller.
	ChannelCustomer = 1
)

// Row is one phrase fragment of a transcript, in chronological order.
type Row struct {
	MediaFilename string

	// Channel is the speaker identifier; see [ChannelAgent] and [ChannelCustomer].
	Channel int

	Type   string
	Phrase string

	// Score is the recognition confidence. NaN when the export left it empty.
	Score float64

	// StartTimeCs and EndTimeCs are offsets from the start of the call in
	// centiseconds.
	StartTimeCs int64
	EndTimeCs   int64
}

// Turn is one or more consecutive same-speaker phrases merged into a single
// text span.
type Turn struct {
	// Text is the space-joined phrases followed by one trailing space.
	Text string

	// Speaker is the channel value shared by every merged phrase.
	Speaker int
}

// Window is a bounded run of turns submitted together as context, paired with
// the turn that actually came next.
type Window struct {
	// Interactions is the ordered context. Never empty.
	Interactions []Turn

	// Actual is the turn immediately following Interactions.
	Actual Turn
}
