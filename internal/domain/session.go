package domain

import "time"

// SessionKey uniquely identifies a conversation session.
type SessionKey struct {
	ChannelID string `json:"channelId"`
	ChatID    string `json:"chatId"`
	SenderID  string `json:"senderId,omitempty"`
}

// String returns a canonical string form of the session key.
func (k SessionKey) String() string {
	s := k.ChannelID + ":" + k.ChatID
	if k.SenderID != "" {
		s += ":" + k.SenderID
	}
	return s
}

// Session is the long-lived history of one conversation. Only user and
// terminal assistant messages are kept; tool traffic never lands here.
//
// A Session is owned by its caller and is not safe for concurrent use.
type Session struct {
	ID        string     `json:"id"`
	Key       SessionKey `json:"key"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	Messages  []Message  `json:"messages,omitempty"`
}

// Append adds messages to the end of the history.
func (s *Session) Append(msgs ...Message) {
	s.Messages = append(s.Messages, msgs...)
	s.UpdatedAt = time.Now()
}

// Len returns the number of messages in the history.
func (s *Session) Len() int {
	return len(s.Messages)
}

// History returns a copy of the message history.
func (s *Session) History() []Message {
	out := make([]Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

// Reset clears the history, optionally seeding it with the given messages.
func (s *Session) Reset(seed ...Message) {
	s.Messages = append([]Message(nil), seed...)
	s.UpdatedAt = time.Now()
}
