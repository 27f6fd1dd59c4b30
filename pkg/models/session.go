package models

import "time"

// Session is a single conversation stream identified by a
// "<channel>:<id>" key (e.g. "telegram:12345", "cli:default").
type Session struct {
	Key       string    `json:"key"`
	Messages  []Message `json:"messages"`
	Summary   string    `json:"summary,omitempty"`
	CreatedAt float64   `json:"created_at"`
	UpdatedAt float64   `json:"updated_at"`
}

// NewSession creates an empty session for the given key.
func NewSession(key string) *Session {
	now := nowUnix()
	return &Session{
		Key:       key,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AddMessage appends a message and bumps the updated timestamp.
func (s *Session) AddMessage(msg Message) {
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = nowUnix()
}

// MessageCount returns the number of messages in the session.
func (s *Session) MessageCount() int {
	return len(s.Messages)
}

// Recent returns the last window messages for LLM context.
func (s *Session) Recent(window int) []Message {
	if window <= 0 || len(s.Messages) <= window {
		return append([]Message(nil), s.Messages...)
	}
	return append([]Message(nil), s.Messages[len(s.Messages)-window:]...)
}

// OldMessages returns messages older than the recent window, the
// candidates for consolidation.
func (s *Session) OldMessages(window int) []Message {
	if window <= 0 || len(s.Messages) <= window {
		return nil
	}
	return append([]Message(nil), s.Messages[:len(s.Messages)-window]...)
}

// PruneToWindow drops messages older than the recent window and returns
// how many were removed.
func (s *Session) PruneToWindow(window int) int {
	if window <= 0 || len(s.Messages) <= window {
		return 0
	}
	pruned := len(s.Messages) - window
	s.Messages = append([]Message(nil), s.Messages[pruned:]...)
	s.UpdatedAt = nowUnix()
	return pruned
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
