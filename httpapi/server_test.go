package httpapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelgrid/forge-orchestrator/aggregator"
	"github.com/pixelgrid/forge-orchestrator/client"
	"github.com/pixelgrid/forge-orchestrator/executor"
	"github.com/pixelgrid/forge-orchestrator/httpapi"
	"github.com/pixelgrid/forge-orchestrator/iteration"
	"github.com/pixelgrid/forge-orchestrator/preference"
	"github.com/pixelgrid/forge-orchestrator/registry"
	"github.com/pixelgrid/forge-orchestrator/router"
	"github.com/pixelgrid/forge-orchestrator/store/memory"
	"github.com/pixelgrid/forge-orchestrator/template"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) (*httpapi.Server, string) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(noopWriter{})

	reg := registry.New()
	prefs := preference.New(log)
	agg := aggregator.New(log)
	sessions := memory.New()

	exec := executor.New(executor.Deps{
		Router:      router.New(reg),
		Registry:    reg,
		Templates:   &template.Engine{},
		Clients:     client.NewPool(time.Second),
		Aggregator:  agg,
		Preferences: prefs,
		Log:         log,
	})
	iter := iteration.New(prefs, nil, log)

	srv := httpapi.New(httpapi.Deps{
		Executor:    exec,
		Iteration:   iter,
		Registry:    reg,
		Preferences: prefs,
		Aggregator:  agg,
		Sessions:    sessions,
		JWTSecret:   testSecret,
		Log:         log,
	})

	token, err := issueTestToken()
	require.NoError(t, err)
	return srv, token
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

// issueTestToken mints a token the same way httpapi's auth middleware
// verifies one, independent of the package's unexported signing helper.
func issueTestToken() (string, error) {
	claims := jwt.RegisteredClaims{Issuer: "forge-orchestrator-test"}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(testSecret))
}

func doRequest(t *testing.T, app *httpapi.Server, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.App.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestHealth_NoAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := doRequest(t, srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProtectedRoute_RejectsMissingToken(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := doRequest(t, srv, http.MethodGet, "/nodes", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProtectedRoute_RejectsBadToken(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := doRequest(t, srv, http.MethodGet, "/nodes", "not-a-real-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateAndGetSession(t *testing.T) {
	srv, token := newTestServer(t)

	createResp := doRequest(t, srv, http.MethodPost, "/sessions", token, map[string]interface{}{
		"flow_kind":      "txt2img-funnel",
		"initial_config": map[string]interface{}{"total_stages": 3},
	})
	require.Equal(t, http.StatusCreated, createResp.StatusCode)

	var created struct {
		ID           string `json:"id"`
		CurrentStage int    `json:"current_stage"`
	}
	require.NoError(t, json.NewDecoder(createResp.Body).Decode(&created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 0, created.CurrentStage)

	getResp := doRequest(t, srv, http.MethodGet, "/sessions/"+created.ID, token, nil)
	assert.Equal(t, http.StatusOK, getResp.StatusCode)
}

func TestGetSession_UnknownReturnsNotFound(t *testing.T) {
	srv, token := newTestServer(t)
	resp := doRequest(t, srv, http.MethodGet, "/sessions/does-not-exist", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGenerate_NoCapableNodeReturns503(t *testing.T) {
	srv, token := newTestServer(t)

	resp := doRequest(t, srv, http.MethodPost, "/generate", token, map[string]interface{}{
		"session_id":   "s1",
		"task_class":   "standard",
		"model_family": "sdxl",
		"prompt":       "a cat in a hat",
	})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGenerate_MissingPromptFailsValidation(t *testing.T) {
	srv, token := newTestServer(t)

	resp := doRequest(t, srv, http.MethodPost, "/generate", token, map[string]interface{}{
		"session_id":   "s1",
		"task_class":   "standard",
		"model_family": "sdxl",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListNodes_EmptyRegistry(t *testing.T) {
	srv, token := newTestServer(t)
	resp := doRequest(t, srv, http.MethodGet, "/nodes", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var nodes []interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&nodes))
	assert.Empty(t, nodes)
}

func TestPreferenceExportImport_RoundTrip(t *testing.T) {
	srv, token := newTestServer(t)

	exportResp := doRequest(t, srv, http.MethodGet, "/preferences/export", token, nil)
	require.Equal(t, http.StatusOK, exportResp.StatusCode)

	var buf bytes.Buffer
	_, err := buf.ReadFrom(exportResp.Body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/preferences/import", &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.App.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRecommendModel_MissingPromptFailsValidation(t *testing.T) {
	srv, token := newTestServer(t)
	resp := doRequest(t, srv, http.MethodGet, "/preferences/recommend/model", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
