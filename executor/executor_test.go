package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelgrid/forge-orchestrator/aggregator"
	"github.com/pixelgrid/forge-orchestrator/client"
	"github.com/pixelgrid/forge-orchestrator/forge"
	"github.com/pixelgrid/forge-orchestrator/preference"
	"github.com/pixelgrid/forge-orchestrator/registry"
	"github.com/pixelgrid/forge-orchestrator/router"
	"github.com/pixelgrid/forge-orchestrator/template"
)

const testManifest = `
templates:
  - name: sd15-txt2img
    model_families: ["sd15"]
    accepts_img2img: false
    accepts_adapters: true
    defaults:
      steps: 20
      sampler: euler
    graph:
      nodes:
        - id: loader
          class: model_loader
          inputs:
            model: "sd15-base"
        - id: sampler
          class: ksampler
          inputs:
            prompt: "{{prompt}}"
            steps: "{{steps}}"
      edges:
        model_in: "loader.model_out"
`

func loadTestTemplates(t *testing.T) *template.Engine {
	dir := t.TempDir()
	path := filepath.Join(dir, "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testManifest), 0o644))
	e, err := template.LoadFile(path)
	require.NoError(t, err)
	return e
}

type fakeWorker struct {
	status  string
	outputs []client.WorkerOutput
	next    int64
}

func newFakeWorker(t *testing.T) (*httptest.Server, *registry.Registry, forge.Node) {
	fw := &fakeWorker{status: "complete", outputs: []client.WorkerOutput{{Filename: "out.png", Seed: 7, ElapsedMS: 500}}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/jobs":
			id := atomic.AddInt64(&fw.next, 1)
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(client.SubmitResult{WorkerJobID: fmt.Sprintf("wj-%d", id)})
		default:
			json.NewEncoder(w).Encode(client.PollResult{Status: fw.status, Outputs: fw.outputs})
		}
	}))

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	node := forge.Node{ID: "node-1", Host: u.Hostname(), Port: port}

	reg := registry.New()
	require.NoError(t, reg.Load([]forge.NodeConfig{{
		ID: node.ID, Tier: forge.TierStandard, Host: node.Host, Port: node.Port,
		MaxConcurrent: 4, Capabilities: []string{"sd15"},
	}}))
	require.NoError(t, reg.UpdateHealth(node.ID, true, 5))

	return srv, reg, node
}

func newTestExecutor(t *testing.T, reg *registry.Registry) *Executor {
	return New(Deps{
		Router:       router.New(reg),
		Registry:     reg,
		Templates:    loadTestTemplates(t),
		Clients:      client.NewPool(time.Second),
		Aggregator:   aggregator.New(nil),
		Preferences:  preference.New(nil),
		PollInterval: 5 * time.Millisecond,
		PollDeadline: time.Second,
	})
}

func TestSubmitSingle_DispatchesAndCompletes(t *testing.T) {
	srv, reg, _ := newFakeWorker(t)
	defer srv.Close()

	e := newTestExecutor(t, reg)
	job, err := e.SubmitSingle(context.Background(), SingleRequest{
		SessionID: "s1", TaskClass: forge.TaskClassStandard, ModelFamily: "sd15",
		Prompt: "a cat", Params: forge.ParameterBundle{Width: 512, Height: 512, Steps: 20},
	})
	require.NoError(t, err)
	assert.Equal(t, forge.JobDispatched, job.State)
	assert.Equal(t, "node-1", job.NodeID)

	assert.Eventually(t, func() bool {
		got, _ := e.GetJob(job.ID)
		return got.State == forge.JobComplete
	}, time.Second, 5*time.Millisecond)

	final, err := e.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "out.png", final.ArtifactRef)
	assert.Equal(t, int64(7), final.FinalSeed)
}

func TestSubmitSingle_NoCapableNodeFailsJobImmediately(t *testing.T) {
	reg := registry.New()
	e := newTestExecutor(t, reg)

	job, err := e.SubmitSingle(context.Background(), SingleRequest{
		SessionID: "s1", TaskClass: forge.TaskClassStandard, ModelFamily: "sd15", Prompt: "a cat",
	})
	assert.ErrorIs(t, err, forge.ErrNoCapableNode)
	assert.Equal(t, forge.JobFailed, job.State)
}

func TestSubmitBatch_DivertsAcrossBatchAndTracksCompletion(t *testing.T) {
	srv, reg, _ := newFakeWorker(t)
	defer srv.Close()

	e := newTestExecutor(t, reg)
	batch, jobs, err := e.SubmitBatch(context.Background(), BatchRequest{
		SessionID: "s1", TaskClass: forge.TaskClassStandard, ModelFamily: "sd15",
		Prompt: "a dog", Count: 3, SeedStart: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, batch.Total)
	require.Len(t, jobs, 3)
	for i, j := range jobs {
		assert.Equal(t, int64(100+i), j.Params.Seed)
		assert.Equal(t, batch.ID, j.BatchID)
	}

	assert.Eventually(t, func() bool {
		got, _ := e.GetBatch(batch.ID)
		return got.Completed == 3 && got.State == forge.BatchClosed
	}, time.Second, 5*time.Millisecond)
}

func TestSubmitBatch_NoCandidatesErrors(t *testing.T) {
	reg := registry.New()
	e := newTestExecutor(t, reg)

	_, _, err := e.SubmitBatch(context.Background(), BatchRequest{
		SessionID: "s1", TaskClass: forge.TaskClassStandard, ModelFamily: "sd15", Prompt: "x", Count: 2,
	})
	assert.ErrorIs(t, err, forge.ErrNoCapableNode)
}

func TestCancelSession_FailsInFlightJob(t *testing.T) {
	fw := &fakeWorker{status: "running"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(client.SubmitResult{WorkerJobID: "wj-1"})
			return
		}
		json.NewEncoder(w).Encode(client.PollResult{Status: fw.status})
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())
	node := forge.Node{ID: "node-1", Host: u.Hostname(), Port: port}

	reg := registry.New()
	require.NoError(t, reg.Load([]forge.NodeConfig{{
		ID: node.ID, Tier: forge.TierStandard, Host: node.Host, Port: node.Port,
		MaxConcurrent: 4, Capabilities: []string{"sd15"},
	}}))
	require.NoError(t, reg.UpdateHealth(node.ID, true, 5))

	e := newTestExecutor(t, reg)
	job, err := e.SubmitSingle(context.Background(), SingleRequest{
		SessionID: "s1", TaskClass: forge.TaskClassStandard, ModelFamily: "sd15", Prompt: "a cat",
	})
	require.NoError(t, err)

	e.CancelSession("s1")

	assert.Eventually(t, func() bool {
		got, _ := e.GetJob(job.ID)
		return got.State == forge.JobFailed
	}, time.Second, 5*time.Millisecond)
}

func TestSelectExploreModels_ConfidenceThresholds(t *testing.T) {
	ranks := []preference.ModelRank{{Model: "A", Score: 0.9}, {Model: "B", Score: 0.6}, {Model: "C", Score: 0.4}}

	assert.Equal(t, []string{"A"}, selectExploreModels(ranks, 0.6, 1))
	assert.Equal(t, []string{"A", "B"}, selectExploreModels(ranks, 0.35, 1))
	assert.Equal(t, []string{"A", "B", "C"}, selectExploreModels(ranks, 0.1, 1))
	assert.Equal(t, []string{"A", "B", "C"}, selectExploreModels(ranks, 0.9, draftStage))
}

func TestExpandStrings_DistributesRemainderToFirstCandidates(t *testing.T) {
	out := expandStrings(5, []string{"A", "B"})
	assert.Equal(t, []string{"A", "A", "A", "B", "B"}, out)
}

func TestSelectAdapters_ClipsStrengthIntoRange(t *testing.T) {
	e := preference.New(nil)
	for i := 0; i < 30; i++ {
		e.Record("anime portrait", "A", []string{"lora-anime"}, forge.ActionSelected, 0, "s1", "")
	}

	specs := selectAdapters(e, "anime portrait", "A", []string{"lora-anime", "lora-unseen"})
	require.NotEmpty(t, specs)
	for _, s := range specs {
		assert.GreaterOrEqual(t, s.Strength, adapterStrengthFloor)
		assert.LessOrEqual(t, s.Strength, adapterStrengthCeiling)
	}
}
