package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/arena"
	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/database"
	"github.com/parleyhq/parley/internal/events"
	"github.com/parleyhq/parley/internal/ranking"
	"github.com/parleyhq/parley/internal/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubDebater answers instantly with a fixed proposal and vote.
type stubDebater struct {
	name   string
	choice string
}

func (d *stubDebater) Name() string     { return d.name }
func (d *stubDebater) Role() types.Role { return types.RoleProposer }
func (d *stubDebater) Model() string    { return "stub" }

func (d *stubDebater) Generate(ctx context.Context, prompt string, history []string) (string, error) {
	return "proposal from " + d.name, nil
}

func (d *stubDebater) GenerateStream(ctx context.Context, prompt string, history []string, onToken func(string)) (string, error) {
	return d.Generate(ctx, prompt, history)
}

func (d *stubDebater) Critique(ctx context.Context, targetAgent, targetContent, task string, history []string) (agent.Critique, error) {
	return agent.Critique{Agent: d.name, TargetAgent: targetAgent, Issues: []string{"vague"}}, nil
}

func (d *stubDebater) Vote(ctx context.Context, proposals map[string]string, task string) (agent.Vote, error) {
	return agent.Vote{Agent: d.name, Choice: d.choice, Confidence: 0.9}, nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		ServerAddr:            ":0",
		Workdir:               t.TempDir(),
		AllowedOrigins:        []string{"http://localhost:3000"},
		WSMaxMessageSize:      65536,
		MaxPayloadBytes:       10240,
		DBTimeout:             5 * time.Second,
		AudienceRatePerMinute: 600,
		AudienceBurst:         100,
	}
}

func newTestServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	dir := t.TempDir()
	archive, err := database.NewArchiveStore(filepath.Join(dir, "debates.db"), cfg.DBTimeout)
	require.NoError(t, err)
	ratings, err := database.NewRatingStore(filepath.Join(dir, "ratings.db"), cfg.DBTimeout)
	require.NoError(t, err)
	memory, err := database.NewMemoryStore(filepath.Join(dir, "memory.db"), cfg.DBTimeout)
	require.NoError(t, err)
	webhooks, err := database.NewWebhookStore(filepath.Join(dir, "webhook.db"), cfg.DBTimeout)
	require.NoError(t, err)
	t.Cleanup(func() {
		archive.Close()
		ratings.Close()
		memory.Close()
		webhooks.Close()
	})

	return NewServer(cfg, Deps{
		Agents: map[string]arena.Debater{
			"alice": &stubDebater{name: "alice", choice: "alice"},
			"bob":   &stubDebater{name: "bob", choice: "alice"},
		},
		Ledger:   ranking.NewLedger(ratings, 0, nil),
		Archive:  archive,
		Memory:   memory,
		Webhooks: webhooks,
	})
}

func doJSON(s *Server, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	w := doJSON(s, http.MethodGet, "/api/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestStartDebateAndFetchArtifact(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	w := doJSON(s, http.MethodPost, "/api/debates", map[string]interface{}{
		"task":   "Pick a storage engine",
		"agents": []string{"alice", "bob"},
		"rounds": 1,
	}, nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	var started struct {
		ID   string `json:"id"`
		Slug string `json:"slug"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	require.NotEmpty(t, started.ID)

	// The debate runs in the background with instant stub agents.
	require.Eventually(t, func() bool {
		return doJSON(s, http.MethodGet, "/api/debates/"+started.ID, nil, nil).Code == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	get := doJSON(s, http.MethodGet, "/api/debates/"+started.ID, nil, nil)
	var result arena.Result
	require.NoError(t, json.Unmarshal(get.Body.Bytes(), &result))
	assert.Equal(t, "alice", result.Winner)
	assert.True(t, result.ConsensusReached)

	bySlug := doJSON(s, http.MethodGet, "/api/debates/"+started.Slug, nil, nil)
	assert.Equal(t, http.StatusOK, bySlug.Code)

	export := doJSON(s, http.MethodGet, "/api/debates/"+started.ID+"/export?format=csv", nil, nil)
	require.Equal(t, http.StatusOK, export.Code)
	assert.True(t, strings.HasPrefix(export.Body.String(), "record,round,agent"))

	board := doJSON(s, http.MethodGet, "/api/leaderboard", nil, nil)
	require.Equal(t, http.StatusOK, board.Code)
	assert.Contains(t, board.Body.String(), "alice")
}

func TestStartDebateValidation(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing task", map[string]interface{}{"agents": []string{"alice", "bob"}}},
		{"one agent", map[string]interface{}{"task": "x", "agents": []string{"alice"}}},
		{"unknown agent", map[string]interface{}{"task": "x", "agents": []string{"alice", "mallory"}}},
		{"bad consensus", map[string]interface{}{"task": "x", "agents": []string{"alice", "bob"}, "consensus": "dictator"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(s, http.MethodPost, "/api/debates", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestGetDebateNotFound(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	assert.Equal(t, http.StatusNotFound, doJSON(s, http.MethodGet, "/api/debates/does-not-exist", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, doJSON(s, http.MethodGet, "/api/debates/bad%20id!", nil, nil).Code)
}

func TestAuthRequiredWhenConfigured(t *testing.T) {
	cfg := testConfig(t)
	hash, err := auth.HashAPIKey("sekrit")
	require.NoError(t, err)
	cfg.APIKeyHash = hash
	cfg.JWTSecret = "test-secret"
	s := newTestServer(t, cfg)

	body := map[string]interface{}{"task": "x", "agents": []string{"alice", "bob"}, "rounds": 1}

	w := doJSON(s, http.MethodPost, "/api/debates", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(s, http.MethodPost, "/api/debates", body, map[string]string{"X-API-Key": "sekrit"})
	assert.Equal(t, http.StatusAccepted, w.Code)

	token, err := auth.New(auth.Config{JWTSecret: "test-secret"}).IssueToken("tester", "")
	require.NoError(t, err)
	w = doJSON(s, http.MethodPost, "/api/debates", body, map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusAccepted, w.Code)

	// Public reads stay open.
	assert.Equal(t, http.StatusOK, doJSON(s, http.MethodGet, "/api/health", nil, nil).Code)
}

func TestStartDebateRateLimited(t *testing.T) {
	cfg := testConfig(t)
	cfg.AudienceBurst = 2
	cfg.AudienceRatePerMinute = 0.01
	s := newTestServer(t, cfg)

	body := map[string]interface{}{"task": "x", "agents": []string{"alice", "mallory"}}
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusBadRequest, doJSON(s, http.MethodPost, "/api/debates", body, nil).Code)
	}
	w := doJSON(s, http.MethodPost, "/api/debates", body, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
}

func TestWebhookIdempotency(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	first := doJSON(s, http.MethodPost, "/api/webhooks/github", map[string]interface{}{"event_id": "evt_1"}, nil)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Contains(t, first.Body.String(), `"duplicate":false`)

	second := doJSON(s, http.MethodPost, "/api/webhooks/github", map[string]interface{}{"event_id": "evt_1"}, nil)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Contains(t, second.Body.String(), `"duplicate":true`)

	bad := doJSON(s, http.MethodPost, "/api/webhooks/github", map[string]interface{}{}, nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestListAgentsReportsBreakerState(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	w := doJSON(s, http.MethodGet, "/api/agents", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Agents []struct {
			Name    string `json:"name"`
			Breaker string `json:"breaker"`
		} `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Agents, 2)
	assert.Equal(t, "alice", resp.Agents[0].Name)
	assert.Equal(t, "closed", resp.Agents[0].Breaker)
}

func TestMemoryTierStatsRequiresAgent(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	assert.Equal(t, http.StatusBadRequest, doJSON(s, http.MethodGet, "/api/memory/tier-stats", nil, nil).Code)
	assert.Equal(t, http.StatusOK, doJSON(s, http.MethodGet, "/api/memory/tier-stats?agent=alice", nil, nil).Code)
}

func dialWS(t *testing.T, s *Server) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(s.Router())
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func readWSJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketSnapshotAndVote(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	s.registry.Register(events.LoopInfo{ID: "loop-1", Task: "Pick a queue", StartedAt: time.Now()})

	conn, cleanup := dialWS(t, s)
	defer cleanup()

	hello := readWSJSON(t, conn)
	assert.Equal(t, "loop_list", hello["type"])
	sync := readWSJSON(t, conn)
	assert.Equal(t, "sync", sync["type"])
	assert.Equal(t, "loop-1", sync["loop_id"])

	// Vote for an unknown loop is rejected before enqueue.
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "user_vote", "loop_id": "ghost",
		"payload": map[string]interface{}{"choice": "alice"},
	}))
	reply := readWSJSON(t, conn)
	assert.Equal(t, "error", reply["type"])
	assert.Zero(t, s.inbox.Count())

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "user_vote", "loop_id": "loop-1",
		"payload": map[string]interface{}{"choice": "alice", "intensity": 10},
	}))
	ack := readWSJSON(t, conn)
	require.Equal(t, "ack", ack["type"])
	assert.Equal(t, 1, s.inbox.Count())

	// The ack is followed by user_vote and audience_metrics broadcasts.
	next := readWSJSON(t, conn)
	assert.Equal(t, "user_vote", next["type"])
	metrics := readWSJSON(t, conn)
	assert.Equal(t, "audience_metrics", metrics["type"])
}

func TestWebSocketUnknownType(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	conn, cleanup := dialWS(t, s)
	defer cleanup()

	readWSJSON(t, conn) // loop_list

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "telemetry"}))
	reply := readWSJSON(t, conn)
	assert.Equal(t, "error", reply["type"])
	assert.Contains(t, reply["error"], "unknown message type")
}
