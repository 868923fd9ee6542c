package server

import (
	"github.com/ebcs/coach/internal/coach"
	"github.com/ebcs/coach/internal/plangen"
)

// HTTPError is the error envelope returned by the unified error handler.
type HTTPError struct {
	Error string `json:"error"`
}

type AuthSignupRequest struct {
	ParticipantID string `json:"participant_id"`
	Password      string `json:"password"`
}

type AuthLoginRequest struct {
	ParticipantID string `json:"participant_id"`
	Password      string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

type MessageRequest struct {
	Message string `json:"message"`
}

// MessageResponse is the per-turn answer. Exactly one of Followup or Plan
// is populated depending on Status; Evidence accompanies Plan.
type MessageResponse struct {
	SessionID string               `json:"session_id"`
	Status    coach.TurnStatus     `json:"status"`
	Alignment coach.Alignment      `json:"alignment"`
	Followup  string               `json:"followup_question,omitempty"`
	Evidence  []coach.EvidenceCard `json:"evidence,omitempty"`
	Plan      *plangen.Plan        `json:"plan,omitempty"`
}

type EvidenceResponse struct {
	SessionID string               `json:"session_id"`
	Evidence  []coach.EvidenceCard `json:"evidence"`
}
