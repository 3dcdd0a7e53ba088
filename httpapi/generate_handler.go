package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pixelgrid/forge-orchestrator/executor"
	"github.com/pixelgrid/forge-orchestrator/forge"
)

func (s *Server) handleGenerate(c *fiber.Ctx) error {
	var req generateRequest
	if err := bindAndValidate(c, &req); err != nil {
		return apiError(c, err)
	}

	_ = s.deps.Iteration.Submit(req.SessionID)

	job, err := s.deps.Executor.SubmitSingle(c.Context(), executor.SingleRequest{
		SessionID:       req.SessionID,
		Stage:           req.Stage,
		TaskClass:       forge.TaskClass(req.TaskClass),
		ModelFamily:     req.ModelFamily,
		Prompt:          req.Prompt,
		NegativePrompt:  req.NegativePrompt,
		Params:          req.Params.toBundle(),
		PreferredNodeID: req.PreferredNodeID,
	})
	if err != nil {
		return apiError(c, err)
	}

	return created(c, generateResponse{ID: job.ID, Status: string(job.State), NodeID: job.NodeID})
}

func (s *Server) handleGenerateBatch(c *fiber.Ctx) error {
	var req generateBatchRequest
	if err := bindAndValidate(c, &req); err != nil {
		return apiError(c, err)
	}

	_ = s.deps.Iteration.Submit(req.SessionID)

	batch, _, err := s.deps.Executor.SubmitBatch(c.Context(), executor.BatchRequest{
		SessionID:         req.SessionID,
		Stage:             req.Stage,
		TaskClass:         forge.TaskClass(req.TaskClass),
		ModelFamily:       req.ModelFamily,
		Prompt:            req.Prompt,
		NegativePrompt:    req.NegativePrompt,
		BaseParams:        req.Params.toBundle(),
		Count:             req.Count,
		SeedStart:         req.SeedStart,
		PreferredNodeID:   req.PreferredNodeID,
		ExploreModels:     req.ExploreModels,
		CandidateModels:   req.CandidateModels,
		AutoAdapters:      req.AutoAdapters,
		CandidateAdapters: req.CandidateAdapters,
	})
	if err != nil {
		return apiError(c, err)
	}

	return created(c, generateBatchResponse{
		BatchID:    batch.ID,
		TotalCount: batch.Total,
		Allocation: batch.Allocation,
	})
}

func (s *Server) handleGetGeneration(c *fiber.Ctx) error {
	id := c.Params("id")
	job, err := s.deps.Executor.GetJob(id)
	if err != nil {
		return apiError(c, err)
	}
	return ok(c, newJobResponse(job))
}
