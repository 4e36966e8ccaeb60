package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/engine"
	"github.com/convoke-ai/convoke/model"
)

type staticResolver struct {
	agents map[string]*engine.AgentRuntime
	teams  map[string]*engine.TeamRuntime
}

func (r *staticResolver) ResolveAgent(_ context.Context, id string) (*engine.AgentRuntime, error) {
	if a, ok := r.agents[id]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("unknown agent %q", id)
}

func (r *staticResolver) ResolveTeam(_ context.Context, id string) (*engine.TeamRuntime, error) {
	if t, ok := r.teams[id]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("unknown team %q", id)
}

type sseEvent struct {
	name string
	data string
}

func parseSSE(body string) []sseEvent {
	var events []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			if rest, ok := strings.CutPrefix(line, "event: "); ok {
				ev.name = rest
			} else if rest, ok := strings.CutPrefix(line, "data: "); ok {
				ev.data = rest
			}
		}
		if ev.name != "" {
			events = append(events, ev)
		}
	}
	return events
}

func newTestServer(t *testing.T, m *model.MockModel) (*httptest.Server, *engine.Engine) {
	t.Helper()
	eng := engine.New()
	resolver := &staticResolver{
		agents: map[string]*engine.AgentRuntime{
			"helper": {Spec: core.AgentSpec{ID: "helper", Name: "Helper"}, Model: m},
		},
	}
	srv := New(eng, resolver)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, eng
}

func postChat(t *testing.T, ts *httptest.Server, payload string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/v1/chat", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestChatStreamsEvents(t *testing.T) {
	m := model.NewMockModel("test-model")
	m.Enqueue(&model.Response{Content: "hi there"})
	ts, _ := newTestServer(t, m)

	resp := postChat(t, ts, `{"session_id":"s1","message":"hello","agent_id":"helper"}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var body strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		body.Write(buf[:n])
		if err != nil {
			break
		}
	}
	events := parseSSE(body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, "content_delta", events[0].name)
	assert.Equal(t, "message_complete", events[len(events)-2].name)
	assert.Equal(t, "done", events[len(events)-1].name)

	var complete core.Message
	require.NoError(t, json.Unmarshal([]byte(events[len(events)-2].data), &complete))
	assert.Equal(t, "hi there", complete.Content)
	assert.Equal(t, "helper", complete.AgentID)
}

func TestChatValidation(t *testing.T) {
	m := model.NewMockModel("test-model")
	ts, _ := newTestServer(t, m)

	tests := []struct {
		name    string
		payload string
		status  int
	}{
		{"missing message", `{"agent_id":"helper"}`, http.StatusBadRequest},
		{"no target", `{"message":"hi"}`, http.StatusBadRequest},
		{"both targets", `{"message":"hi","agent_id":"helper","team_id":"panel"}`, http.StatusBadRequest},
		{"unknown agent", `{"message":"hi","agent_id":"ghost"}`, http.StatusNotFound},
		{"bad attachment", `{"message":"hi","agent_id":"helper","attachments":[{"filename":"f","media_type":"text/plain","data":"!!!"}]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postChat(t, ts, tt.payload)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestSessionMessages(t *testing.T) {
	m := model.NewMockModel("test-model")
	m.Enqueue(&model.Response{Content: "answer"})
	ts, _ := newTestServer(t, m)

	resp := postChat(t, ts, `{"session_id":"s9","message":"question","agent_id":"helper"}`)
	// Drain the stream so the turn completes before reading history.
	buf := make([]byte, 4096)
	for {
		if _, err := resp.Body.Read(buf); err != nil {
			break
		}
	}

	res, err := http.Get(ts.URL + "/v1/sessions/s9/messages")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var out struct {
		Messages []core.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	require.Len(t, out.Messages, 2)
	assert.Equal(t, core.RoleUser, out.Messages[0].Role)
	assert.Equal(t, "question", out.Messages[0].Content)
	assert.Equal(t, core.RoleAssistant, out.Messages[1].Role)
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, model.NewMockModel("m"))
	res, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestUnknownSessionIsEmpty(t *testing.T) {
	ts, _ := newTestServer(t, model.NewMockModel("m"))
	res, err := http.Get(ts.URL + "/v1/sessions/nope/messages")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var out struct {
		Messages []core.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	assert.Empty(t, out.Messages)
}
