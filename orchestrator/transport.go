package orchestrator

import "context"

// Transport is the Inbound Chat Transport abstraction the Orchestrator
// renders against (SPEC_FULL.md §6). The Orchestrator treats it as an opaque
// renderer: a message that fails to render with rich formatting falls back
// to plain text, and callback-button replies edit the original message
// rather than appending.
type Transport interface {
	// Send delivers content to userID, with an optional set of inline action
	// labels (e.g. ["every 5 min", "every 1h"]). It returns a message handle
	// that Edit can later reference.
	Send(ctx context.Context, userID int64, content string, actions []string) (messageID string, err error)

	// Edit replaces the content of a previously sent message.
	Edit(ctx context.Context, userID int64, messageID string, content string) error
}

// sendWithFallback sends content with actions, and on any formatting-shaped
// transport error retries once as plain text with the action labels appended
// inline (§4.9 item 4).
func sendWithFallback(ctx context.Context, t Transport, userID int64, content string, actions []string) (string, error) {
	id, err := t.Send(ctx, userID, content, actions)
	if err == nil {
		return id, nil
	}
	return t.Send(ctx, userID, plainTextFallback(content, actions), nil)
}

func plainTextFallback(content string, actions []string) string {
	if len(actions) == 0 {
		return content
	}
	out := content + "\n\nOptions: "
	for i, a := range actions {
		if i > 0 {
			out += ", "
		}
		out += a
	}
	return out
}
