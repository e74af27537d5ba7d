package chat

import (
	"fmt"
	"unicode/utf8"
)

const (
	RoleUser  = "user"  // player turn
	RoleModel = "model" // narrator response
)

// Message is one entry of the conversation sent back to the model.
// ThoughtSignature is the provider's opaque reasoning token for a model
// message. It is echoed back verbatim and never shown to players.
type Message struct {
	Role             string `json:"role"`
	Text             string `json:"text"`
	ThoughtSignature []byte `json:"thought_signature,omitempty"`
}

func (m Message) Validate() error {
	if m.Role != RoleUser && m.Role != RoleModel {
		return fmt.Errorf("invalid role %q", m.Role)
	}
	return nil
}

// Exchange is one completed turn: what the player sent and what the model
// answered.
type Exchange struct {
	User             string `json:"user"`
	Model            string `json:"model"`
	ThoughtSignature []byte `json:"thought_signature,omitempty"`
}

// Messages expands the exchange into its two conversation entries.
func (e Exchange) Messages() []Message {
	return []Message{
		{Role: RoleUser, Text: e.User},
		{Role: RoleModel, Text: e.Model, ThoughtSignature: e.ThoughtSignature},
	}
}

// Tokens is the approximate token cost of the exchange.
func (e Exchange) Tokens() int {
	return EstimateTokens(e.User) + EstimateTokens(e.Model)
}

// EstimateTokens approximates tokens as characters/4, rounded up.
func EstimateTokens(s string) int {
	return (utf8.RuneCountInString(s) + 3) / 4
}
