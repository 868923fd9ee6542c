package coach

import (
	"strings"
	"time"
)

// Session is the per-conversation state threaded through the engine. One
// retrieval is in flight per session at a time; the engine never reads
// ambient globals.
type Session struct {
	ID            string         `json:"id"`
	Participant   string         `json:"participant,omitempty"`
	Utterances    []string       `json:"utterances"`
	Alignment     *Alignment     `json:"alignment,omitempty"`
	FollowupCount int            `json:"followup_count"`
	LastEvidence  []EvidenceCard `json:"last_evidence,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func NewSession(id string) *Session {
	now := time.Now().UTC()
	return &Session{ID: id, CreatedAt: now, UpdatedAt: now}
}

// Append records a new user turn.
func (s *Session) Append(utterance string) {
	s.Utterances = append(s.Utterances, strings.TrimSpace(utterance))
	s.UpdatedAt = time.Now().UTC()
}

// TaskContext joins all utterances in order.
func (s *Session) TaskContext() string {
	return strings.Join(s.Utterances, "\n")
}

// Ready reports whether retrieval may start without further clarification.
func (s *Session) Ready() bool {
	return s.Alignment != nil && s.Alignment.EnoughInfo
}
