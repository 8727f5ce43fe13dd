package core

// Turn is a single role-attributed message in a conversation.
type Turn struct {
	Role    string `json:"role"`    // "system", "user" or "assistant"
	Content string `json:"content"` // Plain text content
}

// ConversationState is the ordered sequence of turns accumulated across
// chain and router invocations of a single logical session.
//
// The state is owned exclusively by the caller: the engine appends to the
// instance it is handed for the duration of one invocation and never
// retains a reference across calls. Because a ConversationState is never
// shared between concurrent invocations no locking is required.
type ConversationState struct {
	turns []Turn
}

// NewConversationState creates an empty conversation.
func NewConversationState() *ConversationState {
	return &ConversationState{}
}

// Append adds a turn to the end of the conversation.
func (c *ConversationState) Append(role, content string) {
	c.turns = append(c.turns, Turn{Role: role, Content: content})
}

// Turns returns a copy of all turns in order. The copy prevents callers
// from mutating internal state through the returned slice.
func (c *ConversationState) Turns() []Turn {
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len returns the number of turns recorded so far.
func (c *ConversationState) Len() int { return len(c.turns) }

// Clone returns an independent copy of the conversation, useful when a
// caller wants to branch a session without cross-talk.
func (c *ConversationState) Clone() *ConversationState {
	return &ConversationState{turns: c.Turns()}
}
