package daemon

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/mnemo/pkg/memory"
	"github.com/harun/mnemo/pkg/toolexecutor"
)

type wireResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newTestServer(t *testing.T) (*httptest.Server, *App) {
	t.Helper()
	app := newTestApp(t)
	srv := httptest.NewServer(NewServer(app, zerolog.Nop()).Handler())
	t.Cleanup(srv.Close)
	return srv, app
}

func callTool(t *testing.T, srv *httptest.Server, name string, params map[string]interface{}) (int, wireResponse) {
	t.Helper()
	body, err := json.Marshal(params)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/tools/"+name, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out wireResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestServerStoreThenRecall(t *testing.T) {
	srv, _ := newTestServer(t)

	status, resp := callTool(t, srv, memory.ToolStore, map[string]interface{}{
		"content": "My shoe size is 10 US",
	})
	require.Equal(t, http.StatusOK, status, resp.Error)
	require.True(t, resp.Success)

	var stored memory.StoreResult
	require.NoError(t, json.Unmarshal(resp.Data, &stored))
	assert.NotEmpty(t, stored.ID)
	assert.Equal(t, "personal", stored.Category)

	status, resp = callTool(t, srv, memory.ToolRecall, map[string]interface{}{
		"query": "what is my shoe size",
	})
	require.Equal(t, http.StatusOK, status, resp.Error)

	var recalled memory.RecallResult
	require.NoError(t, json.Unmarshal(resp.Data, &recalled))
	require.NotEmpty(t, recalled.Answers)
	assert.Equal(t, stored.ID, recalled.Answers[0].ID)
	assert.False(t, recalled.Cached)

	_, resp = callTool(t, srv, memory.ToolRecall, map[string]interface{}{
		"query": "what is my shoe size",
	})
	require.NoError(t, json.Unmarshal(resp.Data, &recalled))
	assert.True(t, recalled.Cached)
}

func TestServerErrorStatuses(t *testing.T) {
	srv, _ := newTestServer(t)

	t.Run("unknown tool", func(t *testing.T) {
		status, resp := callTool(t, srv, "no_such_tool", map[string]interface{}{})
		assert.Equal(t, http.StatusNotFound, status)
		assert.False(t, resp.Success)
	})

	t.Run("missing required parameter", func(t *testing.T) {
		status, resp := callTool(t, srv, memory.ToolStore, map[string]interface{}{})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Contains(t, resp.Error, "content")
	})

	t.Run("duplicate content", func(t *testing.T) {
		params := map[string]interface{}{"content": "The wifi password rotates monthly"}
		status, _ := callTool(t, srv, memory.ToolStore, params)
		require.Equal(t, http.StatusOK, status)

		status, resp := callTool(t, srv, memory.ToolStore, params)
		assert.Equal(t, http.StatusConflict, status)
		assert.False(t, resp.Success)
	})

	t.Run("forget unknown id deletes nothing", func(t *testing.T) {
		status, resp := callTool(t, srv, memory.ToolForget, map[string]interface{}{"memory_id": "missing"})
		require.Equal(t, http.StatusOK, status)

		var out memory.ForgetResult
		require.NoError(t, json.Unmarshal(resp.Data, &out))
		assert.Equal(t, 0, out.Deleted)
	})

	t.Run("forget without target", func(t *testing.T) {
		status, _ := callTool(t, srv, memory.ToolForget, map[string]interface{}{})
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("malformed body", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/tools/"+memory.ToolStore, "application/json", bytes.NewBufferString("[1,2"))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestServerListTools(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/tools")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Tools []toolInfo `json:"tools"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Len(t, out.Tools, 5)
}

func TestServerHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	callTool(t, srv, memory.ToolStore, map[string]interface{}{"content": "Meeting with Dana moved to Friday"})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Status       string                 `json:"status"`
		Count        int64                  `json:"count"`
		CacheEnabled bool                   `json:"cache_enabled"`
		Jobs         map[string]interface{} `json:"jobs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "ok", out.Status)
	assert.Equal(t, int64(1), out.Count)
	assert.True(t, out.CacheEnabled)
	assert.Len(t, out.Jobs, 3)
}

func TestServerMetrics(t *testing.T) {
	srv, _ := newTestServer(t)
	callTool(t, srv, memory.ToolHealth, map[string]interface{}{})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "requests_total")
	assert.Contains(t, string(body), "memory_records")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{toolexecutor.ErrToolNotFound, http.StatusNotFound},
		{memory.ErrNotFound, http.StatusNotFound},
		{toolexecutor.ErrValidation, http.StatusBadRequest},
		{memory.ErrInvalidArgument, http.StatusBadRequest},
		{memory.ErrDuplicateContent, http.StatusConflict},
		{toolexecutor.ErrTimeout, http.StatusGatewayTimeout},
		{memory.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}
