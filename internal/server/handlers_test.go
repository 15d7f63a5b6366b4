package server

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbridge/agentbridge/internal/agent"
	"github.com/agentbridge/agentbridge/internal/agent/agenttest"
	"github.com/agentbridge/agentbridge/internal/event"
	"github.com/agentbridge/agentbridge/internal/policy"
	"github.com/agentbridge/agentbridge/internal/session"
	"github.com/agentbridge/agentbridge/internal/stream"
	"github.com/agentbridge/agentbridge/pkg/types"
)

func newTestServer(t *testing.T, runtime *agenttest.Runtime) (*Server, *httptest.Server) {
	t.Helper()

	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })

	broker := policy.NewBroker(policy.New(policy.Rules{}), bus)
	broker.SetHandler(broker.BusHandler())

	registry := session.NewRegistry(runtime, broker, bus, session.RegistryConfig{})
	t.Cleanup(registry.Close)

	srv := New(DefaultConfig(), registry, broker, bus)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// sseFrames reads SSE frames until the stream ends, returning
// event-type → data payloads in order.
type sseFrame struct {
	Event string
	Data  string
}

func readSSE(t *testing.T, resp *http.Response) []sseFrame {
	t.Helper()
	defer resp.Body.Close()

	var frames []sseFrame
	var cur sseFrame
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.Data = strings.TrimPrefix(line, "data: ")
		case line == "" && cur.Event != "":
			frames = append(frames, cur)
			cur = sseFrame{}
		}
	}
	return frames
}

func TestSessionCRUD(t *testing.T) {
	runtime := agenttest.NewRuntime()
	_, ts := newTestServer(t, runtime)

	resp := postJSON(t, ts.URL+"/session", `{"workingDirectory": "/tmp/wt", "isolated": true}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var info types.SessionInfo
	decodeInto(t, resp, &info)
	require.NotEmpty(t, info.ID)
	assert.True(t, info.Isolated)
	assert.Equal(t, "/tmp/wt", info.WorkingDirectory)

	listResp, err := http.Get(ts.URL + "/session")
	require.NoError(t, err)
	var infos []types.SessionInfo
	decodeInto(t, listResp, &infos)
	require.Len(t, infos, 1)
	assert.Equal(t, info.ID, infos[0].ID)

	getResp, err := http.Get(ts.URL + "/session/" + info.ID)
	require.NoError(t, err)
	var got types.SessionInfo
	decodeInto(t, getResp, &got)
	assert.Equal(t, info.ID, got.ID)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/session/"+info.ID, nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	delResp.Body.Close()
	require.Equal(t, http.StatusOK, delResp.StatusCode)

	missing, err := http.Get(ts.URL + "/session/" + info.ID)
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestSendMessageStreamsOps(t *testing.T) {
	runtime := agenttest.NewRuntime(agenttest.Turn{Actions: []agenttest.Action{
		{Emit: agent.MessageEvent{MessageID: "m1", Text: "1 + 1 = 2"}},
	}})
	_, ts := newTestServer(t, runtime)

	resp := postJSON(t, ts.URL+"/session/sess-1/message", `{"text": "what is 1+1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := readSSE(t, resp)
	require.NotEmpty(t, frames)

	var sawMarkdown bool
	for _, f := range frames {
		if f.Event != "op" {
			continue
		}
		var op stream.Op
		require.NoError(t, json.Unmarshal([]byte(f.Data), &op))
		if op.Kind == stream.OpMarkdown {
			sawMarkdown = true
			assert.Equal(t, "1 + 1 = 2", op.Text)
		}
	}
	assert.True(t, sawMarkdown)

	last := frames[len(frames)-1]
	require.Equal(t, "done", last.Event)
	var done map[string]any
	require.NoError(t, json.Unmarshal([]byte(last.Data), &done))
	assert.Equal(t, string(types.StatusCompleted), done["status"])
	assert.NotContains(t, done, "error")
}

func TestSendMessageFailureReportedInDone(t *testing.T) {
	runtime := agenttest.NewRuntime(agenttest.Turn{SendErr: assert.AnError})
	_, ts := newTestServer(t, runtime)

	resp := postJSON(t, ts.URL+"/session/sess-1/message", `{"text": "boom"}`)
	frames := readSSE(t, resp)
	require.NotEmpty(t, frames)

	last := frames[len(frames)-1]
	require.Equal(t, "done", last.Event)
	var done map[string]any
	require.NoError(t, json.Unmarshal([]byte(last.Data), &done))
	assert.Equal(t, string(types.StatusFailed), done["status"])
	assert.Contains(t, done, "error")
}

func TestSendMessageValidation(t *testing.T) {
	runtime := agenttest.NewRuntime()
	_, ts := newTestServer(t, runtime)

	resp := postJSON(t, ts.URL+"/session/sess-1/message", `{"text": ""}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistoryEndpoint(t *testing.T) {
	runtime := agenttest.NewRuntime(agenttest.Turn{Actions: []agenttest.Action{
		{Emit: agent.MessageEvent{MessageID: "m1", Text: "2"}},
	}})
	_, ts := newTestServer(t, runtime)

	resp := postJSON(t, ts.URL+"/session/sess-1/message", `{"text": "1+1"}`)
	readSSE(t, resp)

	histResp, err := http.Get(ts.URL + "/session/sess-1/history")
	require.NoError(t, err)
	var history []types.ChatEntry
	decodeInto(t, histResp, &history)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "assistant", history[1].Role)
}

func TestPermissionRespondEndpoint(t *testing.T) {
	runtime := agenttest.NewRuntime(agenttest.Turn{Actions: []agenttest.Action{
		{RequestPermission: types.ShellRequest{Command: "terraform apply"}},
		{WaitPermissions: true},
		{Emit: agent.MessageEvent{MessageID: "m1", Text: "applied"}},
	}})
	srv, ts := newTestServer(t, runtime)

	// Grant whatever prompt appears, as an attached UI would.
	unsubscribe := srv.bus.Subscribe(event.PermissionRequired, func(e event.Event) {
		data := e.Data.(event.PermissionRequiredData)
		resp := postJSON(t, ts.URL+"/permission/"+data.ID, `{"granted": true}`)
		resp.Body.Close()
	})
	defer unsubscribe()

	resp := postJSON(t, ts.URL+"/session/sess-1/message", `{"text": "apply"}`)
	frames := readSSE(t, resp)

	last := frames[len(frames)-1]
	require.Equal(t, "done", last.Event)

	fake := runtime.Sessions()[0]
	require.Len(t, fake.Decisions, 1)
	assert.True(t, fake.Decisions[0].Approved)
	assert.Equal(t, types.OutcomeApprovedInteractively, fake.Decisions[0].Outcome)
}

func TestUnknownSessionHistoryIs404(t *testing.T) {
	runtime := agenttest.NewRuntime()
	_, ts := newTestServer(t, runtime)

	resp, err := http.Get(ts.URL + "/session/nope/history")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSendMessageBusySessionConflicts(t *testing.T) {
	runtime := agenttest.NewRuntime(agenttest.Turn{Actions: []agenttest.Action{
		{Delay: 2 * time.Second},
		{Emit: agent.MessageEvent{MessageID: "m1", Text: "done"}},
	}})
	_, ts := newTestServer(t, runtime)

	resp := postJSON(t, ts.URL+"/session", `{}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var info types.SessionInfo
	decodeInto(t, resp, &info)

	first := make(chan struct{})
	go func() {
		defer close(first)
		slow := postJSON(t, ts.URL+"/session/"+info.ID+"/message", `{"text": "slow"}`)
		slow.Body.Close()
	}()

	require.Eventually(t, func() bool {
		got, err := http.Get(ts.URL + "/session/" + info.ID)
		if err != nil {
			return false
		}
		defer got.Body.Close()
		var current types.SessionInfo
		if err := json.NewDecoder(got.Body).Decode(&current); err != nil {
			return false
		}
		return current.Status == types.StatusInProgress
	}, 2*time.Second, 10*time.Millisecond)

	resp = postJSON(t, ts.URL+"/session/"+info.ID+"/message", `{"text": "rejected"}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var envelope ErrorResponse
	decodeInto(t, resp, &envelope)
	assert.Equal(t, ErrCodeSessionBusy, envelope.Error.Code)

	<-first
}
