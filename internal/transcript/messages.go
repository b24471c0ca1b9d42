package transcript

import "github.com/MrWong99/nextbest/pkg/provider/llm"

// ToMessages projects the window's interactions into chat messages. Agent
// turns become "system" messages and customer turns become "user" messages;
// turns on any other channel are omitted. The ground truth is not included.
func ToMessages(w Window) []llm.Message {
	msgs := make([]llm.Message, 0, len(w.Interactions))
	for _, t := range w.Interactions {
		switch t.Speaker {
		case ChannelAgent:
			msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: t.Text})
		case ChannelCustomer:
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: t.Text})
		}
	}
	return msgs
}

// WindowsToMessages applies [ToMessages] to every window.
func WindowsToMessages(windows []Window) [][]llm.Message {
	out := make([][]llm.Message, len(windows))
	for i, w := range windows {
		out[i] = ToMessages(w)
	}
	return out
}
