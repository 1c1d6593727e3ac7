// Package message defines the values routed between gateways: chat messages,
// channels, and the sentinel-prefixed command protocol.
package message

// Channel identifies a chat-platform channel.
// Two channels are the same channel when their IDs match.
type Channel struct {
	ID   string
	Name string
}

// IsZero reports whether c names no channel.
func (c Channel) IsZero() bool {
	return c.ID == ""
}

// Equal reports whether c and other refer to the same channel.
func (c Channel) Equal(other Channel) bool {
	return c.ID == other.ID
}

// Message is a chat line travelling through the bridge.
// It is passed by value and never mutated once built.
type Message struct {
	// SenderID is the transport-specific identifier of the author.
	SenderID string
	// SenderName is the display name rendered in front of the content.
	SenderName string
	// Channel is the destination or origin channel; zero when not applicable.
	Channel Channel
	// Content is the decoded text.
	Content string
	// Source is the name of the gateway that emitted the message.
	Source string
}
