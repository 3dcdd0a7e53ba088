package httpapi

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/pixelgrid/forge-orchestrator/forge"
)

// sessionTotalStagesKey is the InitialConfig key a session-creation
// request uses to set the Iteration Controller's stage bound. Open
// Question (§9): the spec leaves the source of total_stages unspecified;
// it is read from the request's own config document rather than a
// server-side default so a client can run a one-stage "generate and
// done" flow or a long multi-stage funnel with the same endpoint.
const sessionTotalStagesKey = "total_stages"

const defaultTotalStages = 1

func (s *Server) handleCreateSession(c *fiber.Ctx) error {
	var req createSessionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return apiError(c, err)
	}

	totalStages := defaultTotalStages
	if v, ok := req.InitialConfig[sessionTotalStagesKey]; ok {
		if f, ok := v.(float64); ok && f > 0 {
			totalStages = int(f)
		}
	}

	now := time.Now()
	sess := forge.Session{
		ID:           uuid.NewString(),
		FlowKind:     forge.FlowKind(req.FlowKind),
		CurrentStage: 0,
		Config:       req.InitialConfig,
		CreatedAt:    now,
		LastActivity: now,
	}

	if err := s.deps.Sessions.SaveSession(c.Context(), sess); err != nil {
		return apiError(c, err)
	}
	s.deps.Iteration.StartSession(sess.ID, totalStages, req.InitialConfig)

	return created(c, newSessionResponse(sess, ""))
}

func (s *Server) handleGetSession(c *fiber.Ctx) error {
	id := c.Params("id")
	sess, err := s.deps.Sessions.GetSession(c.Context(), id)
	if err != nil {
		return apiError(c, err)
	}

	var state string
	if _, st, err := s.deps.Iteration.Stage(id); err == nil {
		state = string(st)
	}

	return ok(c, newSessionResponse(sess, state))
}

func (s *Server) handleDeleteSession(c *fiber.Ctx) error {
	id := c.Params("id")
	s.deps.Executor.CancelSession(id)
	if err := s.deps.Sessions.DeleteSession(c.Context(), id); err != nil {
		return apiError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleListGenerations(c *fiber.Ctx) error {
	id := c.Params("id")

	var stagePtr *int
	if raw := c.Query("stage"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return apiError(c, newValidationError(err))
		}
		stagePtr = &n
	}

	jobs := s.deps.Executor.ListGenerations(id, stagePtr)
	resp := make([]jobResponse, len(jobs))
	for i, j := range jobs {
		resp[i] = newJobResponse(j)
	}
	return ok(c, resp)
}

func newSessionResponse(sess forge.Session, state string) sessionResponse {
	return sessionResponse{
		ID:           sess.ID,
		FlowKind:     string(sess.FlowKind),
		CreatedAt:    sess.CreatedAt.Format(time.RFC3339),
		CurrentStage: sess.CurrentStage,
		State:        state,
		Config:       sess.Config,
	}
}
