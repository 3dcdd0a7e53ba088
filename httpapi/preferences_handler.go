package httpapi

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

func (s *Server) handlePreferenceStats(c *fiber.Ctx) error {
	stats := s.deps.Preferences.Stats()
	resp := make([]statResponse, 0, len(stats))
	for key, stat := range stats {
		resp = append(resp, statResponse{
			KeyA: key.A, KeyB: key.B,
			Selected: stat.Selected, Total: stat.Total, Rate: stat.Rate(),
		})
	}
	return ok(c, resp)
}

// candidateModelsFromRegistry returns the registry's full set of unique
// capability tags across every node. Open Question (§9): the spec leaves
// /preferences/recommend/model's candidate set unspecified when the
// caller doesn't supply one explicitly; the live node inventory's
// capability vocabulary is the only candidate source this server has
// that doesn't require the caller to already know the model roster.
func (s *Server) candidateModelsFromRegistry() []string {
	seen := make(map[string]struct{})
	for _, n := range s.deps.Registry.Snapshot() {
		for tag := range n.Capabilities {
			seen[tag] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for tag := range seen {
		out = append(out, tag)
	}
	return out
}

func (s *Server) handleRecommendModel(c *fiber.Ctx) error {
	prompt := c.Query("prompt")
	if prompt == "" {
		return apiError(c, newValidationError(errMissingPromptQuery))
	}

	candidates := c.Queries()["candidates"]
	var models []string
	if candidates != "" {
		models = splitCSV(candidates)
	} else {
		models = s.candidateModelsFromRegistry()
	}

	model, confidence, err := s.deps.Preferences.RecommendModel(prompt, models)
	if err != nil {
		return apiError(c, err)
	}
	return ok(c, recommendModelResponse{Model: model, Confidence: confidence})
}

func (s *Server) handleExportPreferences(c *fiber.Ctx) error {
	data, err := s.deps.Preferences.MarshalJSON()
	if err != nil {
		return apiError(c, err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(data)
}

func (s *Server) handleImportPreferences(c *fiber.Ctx) error {
	body := c.Body()
	if len(body) == 0 {
		return apiError(c, newValidationError(errEmptyImportBody))
	}
	if err := s.deps.Preferences.Import(body); err != nil {
		return apiError(c, err)
	}
	return ok(c, fiber.Map{"imported": true})
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

var (
	errMissingPromptQuery = errors.New("prompt query parameter is required")
	errEmptyImportBody    = errors.New("request body is required")
)
