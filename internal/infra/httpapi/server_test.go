package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twingate/internal/domain"
)

type stubRegistry struct {
	upserted []domain.ToolSchema
	scopes   []uuid.UUID
	tools    []domain.ToolSchema
	err      error
}

func (s *stubRegistry) Upsert(_ context.Context, scope uuid.UUID, tool domain.ToolSchema) error {
	if s.err != nil {
		return s.err
	}
	s.scopes = append(s.scopes, scope)
	s.upserted = append(s.upserted, tool)
	return nil
}

func (s *stubRegistry) List(uuid.UUID) []domain.ToolSchema { return s.tools }
func (s *stubRegistry) ListAll() []domain.ToolSchema       { return s.tools }

type stubDispatcher struct {
	scope  uuid.UUID
	name   string
	params json.RawMessage
	result string
	err    error
}

func (s *stubDispatcher) Execute(_ context.Context, scope uuid.UUID, name string, params json.RawMessage) (string, error) {
	s.scope = scope
	s.name = name
	s.params = params
	return s.result, s.err
}

func newTestServer(reg *stubRegistry, disp *stubDispatcher) *httptest.Server {
	s := NewServer(reg, disp, prometheus.NewRegistry(), nil)
	return httptest.NewServer(s.Handler())
}

func TestRegisterTool(t *testing.T) {
	reg := &stubRegistry{}
	srv := newTestServer(reg, &stubDispatcher{})
	defer srv.Close()

	twinID := uuid.New()
	body := `{"twin_id":"` + twinID.String() + `","tool":{"name":"echo","plugin_url":"http://localhost:7001","endpoint":"echo"}}`
	resp, err := http.Post(srv.URL+"/register_tool", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, reg.upserted, 1)
	assert.Equal(t, "echo", reg.upserted[0].Name)
	assert.Equal(t, twinID, reg.scopes[0])
}

func TestRegisterToolDefaultsToGlobalScope(t *testing.T) {
	reg := &stubRegistry{}
	srv := newTestServer(reg, &stubDispatcher{})
	defer srv.Close()

	body := `{"tool":{"name":"echo","plugin_url":"http://localhost:7001"}}`
	resp, err := http.Post(srv.URL+"/register_tool", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, reg.scopes, 1)
	assert.Equal(t, domain.GlobalTwinID(), reg.scopes[0])
}

func TestRegisterToolRejectsBadInput(t *testing.T) {
	reg := &stubRegistry{}
	srv := newTestServer(reg, &stubDispatcher{})
	defer srv.Close()

	cases := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{`},
		{name: "missing tool name", body: `{"tool":{"plugin_url":"http://x"}}`},
		{name: "bad twin id", body: `{"twin_id":"not-a-uuid","tool":{"name":"x"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/register_tool", "application/json", strings.NewReader(tc.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var body errorBody
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, string(domain.CodeConfiguration), body.Code)
			assert.False(t, body.Timestamp.IsZero())
		})
	}
	assert.Empty(t, reg.upserted)
}

func TestRegisterToolStoreFailure(t *testing.T) {
	reg := &stubRegistry{err: domain.E(domain.CodeStoreUnavailable, "store.persist", "redis down", nil)}
	srv := newTestServer(reg, &stubDispatcher{})
	defer srv.Close()

	body := `{"tool":{"name":"echo","plugin_url":"http://x"}}`
	resp, err := http.Post(srv.URL+"/register_tool", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestListTools(t *testing.T) {
	reg := &stubRegistry{tools: []domain.ToolSchema{
		{Name: "echo", PluginURL: "http://x", Parameters: json.RawMessage(`{}`)},
	}}
	srv := newTestServer(reg, &stubDispatcher{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/tools")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Tools []domain.ToolSchema `json:"tools"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Tools, 1)
	assert.Equal(t, "echo", payload.Tools[0].Name)
}

func TestListToolsForScope(t *testing.T) {
	reg := &stubRegistry{tools: []domain.ToolSchema{{Name: "echo"}}}
	srv := newTestServer(reg, &stubDispatcher{})
	defer srv.Close()

	twinID := uuid.New()
	resp, err := http.Get(srv.URL + "/tools/" + twinID.String())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		TwinID string              `json:"twin_id"`
		Tools  []domain.ToolSchema `json:"tools"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, twinID.String(), payload.TwinID)
	assert.Len(t, payload.Tools, 1)
}

func TestExecutePassesBackendBodyThrough(t *testing.T) {
	disp := &stubDispatcher{result: `{"answer":42}`}
	srv := newTestServer(&stubRegistry{}, disp)
	defer srv.Close()

	twinID := uuid.New()
	body := `{"twin_id":"` + twinID.String() + `","parameters":{"x":7}}`
	resp, err := http.Post(srv.URL+"/execute/compute", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, float64(42), result["answer"])

	assert.Equal(t, "compute", disp.name)
	assert.Equal(t, twinID, disp.scope)
	assert.JSONEq(t, `{"x":7}`, string(disp.params))
}

func TestExecuteErrorStatusMapping(t *testing.T) {
	cases := []struct {
		code   domain.ErrorCode
		status int
	}{
		{code: domain.CodeNotFound, status: http.StatusNotFound},
		{code: domain.CodeBackendRejected, status: http.StatusBadGateway},
		{code: domain.CodeBackendUnreachable, status: http.StatusBadGateway},
		{code: domain.CodeProtocolViolation, status: http.StatusBadGateway},
		{code: domain.CodeTimeout, status: http.StatusGatewayTimeout},
		{code: domain.CodeStoreUnavailable, status: http.StatusInternalServerError},
		{code: domain.CodeInternal, status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			disp := &stubDispatcher{err: domain.E(tc.code, "test", "boom", nil)}
			srv := newTestServer(&stubRegistry{}, disp)
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/execute/anything", "application/json", strings.NewReader(`{}`))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tc.status, resp.StatusCode)

			var body errorBody
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, string(tc.code), body.Code)
			assert.Contains(t, body.Error, "boom")
		})
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(&stubRegistry{}, &stubDispatcher{})
	defer srv.Close()

	for _, path := range []string{"/health", "/healthz"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(&stubRegistry{}, &stubDispatcher{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
