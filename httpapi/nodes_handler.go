package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pixelgrid/forge-orchestrator/registry"
)

func (s *Server) handleListNodes(c *fiber.Ctx) error {
	nodes := s.deps.Registry.Snapshot()
	resp := make([]nodeResponse, len(nodes))
	for i, n := range nodes {
		resp[i] = newNodeResponse(n)
	}
	return ok(c, resp)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	nodes := s.deps.Registry.Snapshot()
	healthy := 0
	for _, n := range nodes {
		if n.Healthy {
			healthy++
		}
	}

	status := "ok"
	if len(nodes) > 0 && healthy == 0 {
		status = "degraded"
	}

	return ok(c, healthResponse{Status: status, NodesHealthy: healthy, NodesTotal: len(nodes)})
}

// handleReloadNodes re-reads the node inventory file and reloads the
// Registry from it. This is a supplemented operation: §6.2 documents
// file-watch hot reload but not an explicit reload trigger, useful when
// FORGE_NODES_WATCH is disabled or an operator wants reload-on-demand
// confirmation in the response body.
func (s *Server) handleReloadNodes(c *fiber.Ctx) error {
	cfgs, err := registry.LoadFile(s.deps.NodesConfigPath)
	if err != nil {
		return apiError(c, err)
	}
	if err := s.deps.Registry.Load(cfgs); err != nil {
		return apiError(c, err)
	}
	return ok(c, fiber.Map{"reloaded": true, "node_count": len(cfgs)})
}
