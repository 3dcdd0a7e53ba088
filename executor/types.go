package executor

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pixelgrid/forge-orchestrator/aggregator"
	"github.com/pixelgrid/forge-orchestrator/client"
	"github.com/pixelgrid/forge-orchestrator/forge"
	"github.com/pixelgrid/forge-orchestrator/preference"
	"github.com/pixelgrid/forge-orchestrator/router"
	"github.com/pixelgrid/forge-orchestrator/template"
)

// SingleRequest describes one requested image generation.
type SingleRequest struct {
	SessionID       string
	Stage           int
	TaskClass       forge.TaskClass
	ModelFamily     string
	Prompt          string
	NegativePrompt  string
	Params          forge.ParameterBundle
	PreferredNodeID string
}

// BatchRequest describes a set of generations submitted together.
//
// CandidateModels, when ExploreModels is set, names the model families the
// Preference Engine is allowed to pick among; it defaults to ModelFamily
// alone when left empty. CandidateAdapters, when AutoAdapters is set,
// names the adapters available for auto-selection.
type BatchRequest struct {
	SessionID       string
	Stage           int
	TaskClass       forge.TaskClass
	ModelFamily     string
	Prompt          string
	NegativePrompt  string
	BaseParams      forge.ParameterBundle
	Count           int
	SeedStart       int64
	PreferredNodeID string

	ExploreModels     bool
	CandidateModels   []string
	AutoAdapters      bool
	CandidateAdapters []string
}

// Registry is the subset of *registry.Registry the Executor depends on.
type Registry interface {
	BumpQueue(nodeID string, delta int) error
}

// Deps bundles everything the Executor needs to dispatch and track jobs.
type Deps struct {
	Router      *router.Router
	Registry    Registry
	Templates   *template.Engine
	Clients     *client.Pool
	Aggregator  *aggregator.Aggregator
	Preferences *preference.Engine
	Log         *logrus.Logger

	PollInterval time.Duration
	PollDeadline time.Duration
}
