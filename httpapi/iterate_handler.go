package httpapi

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/pixelgrid/forge-orchestrator/forge"
	"github.com/pixelgrid/forge-orchestrator/iteration"
)

func (s *Server) jobsByID(ids []string) ([]forge.Job, error) {
	jobs := make([]forge.Job, 0, len(ids))
	for _, id := range ids {
		j, err := s.deps.Executor.GetJob(id)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// handleIterate dispatches POST /iterate's four feedback actions
// (select, reject-all, more-like-this, advance) to the Iteration
// Controller, matching §4.9.
func (s *Server) handleIterate(c *fiber.Ctx) error {
	var req iterateRequest
	if err := bindAndValidate(c, &req); err != nil {
		return apiError(c, err)
	}

	switch req.Action {
	case "select":
		return s.iterateSelect(c, req)
	case "reject-all":
		return s.iterateRejectAll(c, req)
	case "more-like-this":
		return s.iterateMoreLikeThis(c, req)
	case "advance":
		return s.iterateAdvance(c, req)
	default:
		return apiError(c, fmt.Errorf("unknown iterate action %q: %w", req.Action, forge.ErrInvalidTransition))
	}
}

func (s *Server) iterateSelect(c *fiber.Ctx, req iterateRequest) error {
	jobs, err := s.jobsByID(req.SelectedIDs)
	if err != nil {
		return apiError(c, err)
	}

	prompt, negative, rationale, err := s.deps.Iteration.Select(c.Context(), req.SessionID, jobs)
	if err != nil {
		return apiError(c, err)
	}

	stage, state, _ := s.deps.Iteration.Stage(req.SessionID)
	return ok(c, iterateResponse{
		Stage:             stage,
		State:             string(state),
		SuggestedPrompt:   prompt,
		SuggestedNegative: negative,
		Rationale:         rationale,
	})
}

func (s *Server) iterateRejectAll(c *fiber.Ctx, req iterateRequest) error {
	jobs, err := s.jobsByID(req.RejectedIDs)
	if err != nil {
		return apiError(c, err)
	}
	if err := s.deps.Iteration.RejectAll(req.SessionID, jobs, req.FeedbackText); err != nil {
		return apiError(c, err)
	}

	stage, state, _ := s.deps.Iteration.Stage(req.SessionID)
	return ok(c, iterateResponse{Stage: stage, State: string(state)})
}

func (s *Server) iterateMoreLikeThis(c *fiber.Ctx, req iterateRequest) error {
	if len(req.SelectedIDs) == 0 {
		return apiError(c, fmt.Errorf("more-like-this: %w: selected_ids is required", forge.ErrInvalidTransition))
	}
	source, err := s.deps.Executor.GetJob(req.SelectedIDs[0])
	if err != nil {
		return apiError(c, err)
	}

	batchReq := iteration.MoreLikeThis(source, req.MoreLikeThisCount, req.SeedStart, req.DenoiseStrength)
	batch, _, err := s.deps.Executor.SubmitBatch(c.Context(), batchReq)
	if err != nil {
		return apiError(c, err)
	}

	stage, state, _ := s.deps.Iteration.Stage(req.SessionID)
	return ok(c, iterateResponse{
		Stage: stage,
		State: string(state),
		Batch: &generateBatchResponse{BatchID: batch.ID, TotalCount: batch.Total, Allocation: batch.Allocation},
	})
}

func (s *Server) iterateAdvance(c *fiber.Ctx, req iterateRequest) error {
	stage, state, err := s.deps.Iteration.Advance(req.SessionID, req.ParameterAdjustments)
	if err != nil {
		return apiError(c, err)
	}
	return ok(c, iterateResponse{Stage: stage, State: string(state)})
}

// handleRejectAll implements POST /iterate/reject-all, the dedicated
// shortcut §6.2 lists alongside the generic /iterate action.
func (s *Server) handleRejectAll(c *fiber.Ctx) error {
	var req rejectAllRequest
	if err := bindAndValidate(c, &req); err != nil {
		return apiError(c, err)
	}

	jobs, err := s.jobsByID(req.RejectedIDs)
	if err != nil {
		return apiError(c, err)
	}
	if err := s.deps.Iteration.RejectAll(req.SessionID, jobs, req.FeedbackText); err != nil {
		return apiError(c, err)
	}

	return ok(c, rejectAllResponse{Recorded: true, Rationale: req.FeedbackText})
}
