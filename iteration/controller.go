// Package iteration tracks each session's stage funnel, ingests
// selection/rejection feedback into the Preference Engine, and plans
// the next stage's generation requests, following the registry's
// single-writer-behind-an-RWMutex discipline for its per-session state.
package iteration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pixelgrid/forge-orchestrator/executor"
	"github.com/pixelgrid/forge-orchestrator/forge"
	"github.com/pixelgrid/forge-orchestrator/preference"
)

// State is a session's position in the stage funnel.
type State string

const (
	StateConfiguring State = "configuring"
	StateGenerating  State = "generating"
	StateReviewing   State = "reviewing"
	StateDone        State = "done"
)

// defaultMoreLikeThisDenoise is §4.9's more-like-this default denoise
// strength.
const defaultMoreLikeThisDenoise = 0.4

type session struct {
	stage       int
	totalStages int
	state       State
	intent      map[string]any
	lastFeedback string
}

// Controller holds per-session stage state for every active session.
type Controller struct {
	mu          sync.RWMutex
	sessions    map[string]*session
	preferences *preference.Engine
	rewriter    PromptRewriter
	log         *logrus.Logger
}

// New returns a Controller. A nil rewriter defaults to NoopRewriter.
func New(preferences *preference.Engine, rewriter PromptRewriter, log *logrus.Logger) *Controller {
	if rewriter == nil {
		rewriter = NoopRewriter{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Controller{
		sessions:    make(map[string]*session),
		preferences: preferences,
		rewriter:    rewriter,
		log:         log,
	}
}

// StartSession registers a new session in the configuring state.
// totalStages bounds how many times Advance can move the funnel forward
// before it reaches done; intent seeds the accumulating config document.
func (c *Controller) StartSession(sessionID string, totalStages int, intent map[string]any) {
	if intent == nil {
		intent = make(map[string]any)
	}
	c.mu.Lock()
	c.sessions[sessionID] = &session{
		stage:       0,
		totalStages: totalStages,
		state:       StateConfiguring,
		intent:      intent,
	}
	c.mu.Unlock()
}

func (c *Controller) get(sessionID string) (*session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", sessionID, forge.ErrNotFound)
	}
	return s, nil
}

// Stage reports sessionID's current stage index and funnel state.
func (c *Controller) Stage(sessionID string) (int, State, error) {
	s, err := c.get(sessionID)
	if err != nil {
		return 0, "", err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return s.stage, s.state, nil
}

// Submit transitions a session from configuring to generating, called
// when the first generation request for the current stage is dispatched.
func (c *Controller) Submit(sessionID string) error {
	return c.transition(sessionID, StateConfiguring, StateGenerating)
}

// OnBatchComplete transitions a session from generating to reviewing,
// called once every member of the stage's batch has reached a terminal
// state.
func (c *Controller) OnBatchComplete(sessionID string) error {
	return c.transition(sessionID, StateGenerating, StateReviewing)
}

func (c *Controller) transition(sessionID string, from, to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %q: %w", sessionID, forge.ErrNotFound)
	}
	if s.state != from {
		return fmt.Errorf("session %q: %w: expected %s, got %s", sessionID, forge.ErrInvalidTransition, from, s.state)
	}
	s.state = to
	return nil
}

// Advance moves a reviewing session to its next stage (merging
// nextIntent into the accumulated config document) or to done if the
// session is already at its last stage. Only legal from reviewing.
func (c *Controller) Advance(sessionID string, nextIntent map[string]any) (stage int, state State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		return 0, "", fmt.Errorf("session %q: %w", sessionID, forge.ErrNotFound)
	}
	if s.state != StateReviewing {
		return 0, "", fmt.Errorf("session %q: %w: advance requires reviewing, got %s", sessionID, forge.ErrInvalidTransition, s.state)
	}

	for k, v := range nextIntent {
		s.intent[k] = v
	}

	if s.stage+1 >= s.totalStages {
		s.state = StateDone
		return s.stage, s.state, nil
	}
	s.stage++
	s.state = StateGenerating
	return s.stage, s.state, nil
}

// RejectAll records every job in jobs as rejected with feedbackText and
// leaves the session in reviewing: prior-stage inputs remain available
// for a fresh generation at the same stage. Legal only from reviewing.
func (c *Controller) RejectAll(sessionID string, jobs []forge.Job, feedbackText string) error {
	s, err := c.get(sessionID)
	if err != nil {
		return err
	}
	c.mu.RLock()
	state := s.state
	c.mu.RUnlock()
	if state != StateReviewing {
		return fmt.Errorf("session %q: %w: reject-all requires reviewing, got %s", sessionID, forge.ErrInvalidTransition, state)
	}

	for _, j := range jobs {
		c.preferences.Record(j.Prompt, j.ModelFamily, adapterNames(j.Params.Adapters), forge.ActionRejected, j.Stage, sessionID, feedbackText)
	}

	c.mu.Lock()
	s.lastFeedback = feedbackText
	c.mu.Unlock()
	return nil
}

// Select records every job in selected as selected, then invokes the
// configured PromptRewriter against the batch's shared prompt, returning
// the (possibly unchanged) prompt/negative pair and a rationale. Legal
// only from reviewing.
func (c *Controller) Select(ctx context.Context, sessionID string, selected []forge.Job) (newPrompt, newNegative, rationale string, err error) {
	if len(selected) == 0 {
		return "", "", "", fmt.Errorf("select: %w: no generations selected", forge.ErrInvalidTransition)
	}

	s, err := c.get(sessionID)
	if err != nil {
		return "", "", "", err
	}
	c.mu.RLock()
	state := s.state
	c.mu.RUnlock()
	if state != StateReviewing {
		return "", "", "", fmt.Errorf("session %q: %w: select requires reviewing, got %s", sessionID, forge.ErrInvalidTransition, state)
	}

	for _, j := range selected {
		c.preferences.Record(j.Prompt, j.ModelFamily, adapterNames(j.Params.Adapters), forge.ActionSelected, j.Stage, sessionID, "")
	}

	return c.rewriter.Rewrite(ctx, selected[0].Prompt, selected[0].NegativePrompt)
}

// MoreLikeThis delegates to the package-level MoreLikeThis helper; it is
// a Controller method only for API symmetry with Select/RejectAll, since
// building the follow-up batch request needs no per-session state.
func (c *Controller) MoreLikeThis(source forge.Job, count int, seedStart int64, denoiseStrength float64) executor.BatchRequest {
	return MoreLikeThis(source, count, seedStart, denoiseStrength)
}

// MoreLikeThis builds a batch request that uses source's artifact as an
// image-to-image seed at the default (or caller-supplied) denoise
// strength. count defaults to 1 when zero or negative.
func MoreLikeThis(source forge.Job, count int, seedStart int64, denoiseStrength float64) executor.BatchRequest {
	if count <= 0 {
		count = 1
	}
	if denoiseStrength <= 0 {
		denoiseStrength = defaultMoreLikeThisDenoise
	}

	params := source.Params
	params.SourceImageRef = source.ArtifactRef
	params.DenoiseStrength = denoiseStrength

	return executor.BatchRequest{
		SessionID:      source.SessionID,
		Stage:          source.Stage,
		TaskClass:      source.TaskClass,
		ModelFamily:    source.ModelFamily,
		Prompt:         source.Prompt,
		NegativePrompt: source.NegativePrompt,
		BaseParams:     params,
		Count:          count,
		SeedStart:      seedStart,
	}
}

func adapterNames(specs []forge.AdapterSpec) []string {
	if len(specs) == 0 {
		return nil
	}
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.Adapter
	}
	return out
}

// SweepIdle marks sessions whose lastActivity exceeds ttl as eligible
// for external deletion by returning their ids; it does not delete
// anything itself, matching §1's exclusion of persistence/lifecycle
// policy from this repo's authority. Sessions live in the caller's store
// (e.g. a SnapshotStore), not in the Controller, so the caller supplies
// the activity timestamps to check.
func SweepIdle(lastActivity map[string]time.Time, ttl time.Duration, now time.Time) []string {
	var idle []string
	for sessionID, last := range lastActivity {
		if now.Sub(last) >= ttl {
			idle = append(idle, sessionID)
		}
	}
	return idle
}
