package server

import (
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ebcs/coach/internal/coach"
	"github.com/ebcs/coach/internal/plangen"
	"github.com/ebcs/coach/internal/session"
	"github.com/ebcs/coach/internal/telemetry"
)

// SessionHandler exposes the conversation surface: session creation,
// message turns and the last retrieved evidence.
type SessionHandler struct {
	Engine   *coach.Engine
	Sessions session.Store
	Plans    *plangen.Generator
	Tele     *telemetry.Telemetry
	Logger   *log.Logger
}

func (h *SessionHandler) Register(g *echo.Group) {
	g.POST("/sessions", h.createSession)
	g.POST("/sessions/:id/messages", h.postMessage)
	g.GET("/sessions/:id/evidence", h.getEvidence)
	g.DELETE("/sessions/:id", h.deleteSession)
}

func (h *SessionHandler) createSession(c echo.Context) error {
	sess, err := h.Sessions.Ensure(c.Request().Context(), "")
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if pid, ok := c.Get("participant_id").(string); ok {
		sess.Participant = pid
		if err := h.Sessions.Save(c.Request().Context(), sess); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusCreated, CreateSessionResponse{SessionID: sess.ID})
}

func (h *SessionHandler) postMessage(c echo.Context) error {
	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}

	ctx := c.Request().Context()
	sess, err := h.Sessions.Get(ctx, c.Param("id"))
	if err == session.ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	started := time.Now()
	result, err := h.Engine.HandleTurn(ctx, sess, req.Message)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.Sessions.Save(ctx, sess); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	resp := MessageResponse{
		SessionID: sess.ID,
		Status:    result.Status,
		Alignment: result.Alignment,
	}
	switch result.Status {
	case coach.StatusClarify:
		h.Tele.RecordClarification()
		resp.Followup = result.Followup
	case coach.StatusNoEvidence:
		h.Tele.RecordRetrieval("no_evidence", time.Since(started), 0, 0)
	case coach.StatusReady:
		resp.Evidence = result.Retrieval.Evidence
		plan := h.Plans.Generate(ctx, req.Message, sess.TaskContext(), result.Alignment, result.Retrieval.Evidence)
		resp.Plan = &plan
		policyN, thesisN := countByRepo(result.Retrieval.Evidence)
		h.Tele.RecordRetrieval("ready", result.Retrieval.Elapsed, policyN, thesisN)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *SessionHandler) getEvidence(c echo.Context) error {
	sess, err := h.Sessions.Get(c.Request().Context(), c.Param("id"))
	if err == session.ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, EvidenceResponse{SessionID: sess.ID, Evidence: sess.LastEvidence})
}

func (h *SessionHandler) deleteSession(c echo.Context) error {
	if err := h.Sessions.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func countByRepo(cards []coach.EvidenceCard) (policy, thesis int) {
	for _, card := range cards {
		if card.Repo == coach.RepoPolicy {
			policy++
		} else {
			thesis++
		}
	}
	return policy, thesis
}
