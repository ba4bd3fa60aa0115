package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adithya-n05/ICHack26-sub001/internal/agent"
	"github.com/adithya-n05/ICHack26-sub001/internal/agents"
	"github.com/adithya-n05/ICHack26-sub001/internal/api"
	"github.com/adithya-n05/ICHack26-sub001/internal/api/handlers"
	"github.com/adithya-n05/ICHack26-sub001/internal/api/middleware"
	"github.com/adithya-n05/ICHack26-sub001/internal/auth"
	"github.com/adithya-n05/ICHack26-sub001/internal/bus"
	"github.com/adithya-n05/ICHack26-sub001/internal/catalog"
	"github.com/adithya-n05/ICHack26-sub001/internal/config"
	"github.com/adithya-n05/ICHack26-sub001/internal/orchestrator"
	"github.com/adithya-n05/ICHack26-sub001/internal/realtime"
	"github.com/adithya-n05/ICHack26-sub001/internal/scheduler"
	"github.com/adithya-n05/ICHack26-sub001/internal/scoring"
	"github.com/adithya-n05/ICHack26-sub001/internal/store"
	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
	"github.com/gorilla/websocket"
)

type testServer struct {
	URL   string
	Bus   *bus.Bus
	Store *store.MemoryStore
	Hub   *realtime.Hub
}

// newServer runs the router over an orchestrator that supervises only the
// alert agent.
func newServer(t *testing.T) *testServer {
	t.Helper()
	return newServerWithAuth(t, nil)
}

func newServerWithAuth(t *testing.T, authn middleware.Authenticator) *testServer {
	t.Helper()
	b := bus.New(bus.Options{})
	t.Cleanup(b.Close)
	sched := scheduler.New()

	o, err := orchestrator.New(b, orchestrator.Config{Scheduler: sched})
	if err != nil {
		t.Fatalf("orchestrator.New() error = %v", err)
	}
	hub := realtime.NewHub(nil)
	t.Cleanup(hub.Close)

	var n atomic.Int64
	alert := agents.NewAlert(hub, agents.AlertConfig{NewID: func() string { return fmt.Sprintf("a%d", n.Add(1)) }})
	o.Register(agent.New(alert, b, agent.Options{HeartbeatInterval: time.Hour, System: o, Scheduler: sched}))
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		o.Stop(ctx)
	})

	st := store.NewMemoryStore("")
	t.Cleanup(func() { st.Close() })

	cat, err := catalog.New(catalog.File{
		Entities: []models.Entity{
			{ID: "tsmc-hsinchu", Type: models.EntitySupplier, Name: "TSMC Hsinchu Fab", Location: models.GeoPoint{Lat: 24.7736, Lng: 120.9964}, Region: "Taiwan", Product: "semiconductors"},
		},
		Suppliers: []models.Alternative{
			{Name: "Samsung Foundry", Region: "South Korea", Product: "semiconductors", RiskScore: 23, CostDelta: 8, Capacity: 85},
			{Name: "SMIC", Region: "China", Product: "semiconductors", RiskScore: 55, CostDelta: -5, Capacity: 60},
		},
	})
	if err != nil {
		t.Fatalf("catalog.New() error = %v", err)
	}

	h := &handlers.Handlers{
		Version:      "test",
		Bus:          b,
		Orchestrator: o,
		Store:        st,
		Catalog:      cat,
		Scorer:       scoring.New(cat, st, scoring.Options{}),
		Alerts:       alert,
	}
	cfg := &config.Config{CORSOrigins: []string{"*"}}
	srv := httptest.NewServer(api.NewRouter(cfg, h, hub, authn))
	t.Cleanup(srv.Close)
	return &testServer{URL: srv.URL, Bus: b, Store: st, Hub: hub}
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url, body string, out any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

const alertRequestBody = `{
	"type": "alert_request",
	"to": "alert",
	"payload": {"alert_type": "manual", "severity": "critical", "title": "Port closed", "body": "Kaohsiung closed", "entity_id": "kaohsiung-port"}
}`

// ── System ──────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	s := newServer(t)
	var body map[string]any
	if code := getJSON(t, s.URL+"/health", &body); code != http.StatusOK {
		t.Fatalf("GET /health = %d, want 200", code)
	}
	if body["status"] != "healthy" || body["store"] != "ok" || body["running"] != true {
		t.Errorf("health body = %v", body)
	}
}

func TestHealth_StoreDown(t *testing.T) {
	s := newServer(t)
	s.Store.Close()
	if code := getJSON(t, s.URL+"/health", nil); code != http.StatusServiceUnavailable {
		t.Errorf("GET /health with closed store = %d, want 503", code)
	}
}

func TestStatusAndAgents(t *testing.T) {
	s := newServer(t)

	var status models.SystemStatus
	if code := getJSON(t, s.URL+"/api/v1/status", &status); code != http.StatusOK {
		t.Fatalf("GET /status = %d", code)
	}
	if !status.Running {
		t.Error("status.Running = false, want true")
	}

	var agentsOut []models.AgentHealth
	getJSON(t, s.URL+"/api/v1/agents", &agentsOut)
	if len(agentsOut) != 1 || agentsOut[0].ID != models.AlertAgent {
		t.Errorf("agents = %+v, want only %s", agentsOut, models.AlertAgent)
	}
}

// ── Messages ────────────────────────────────────────────────

func TestPublishMessage_DefaultsSender(t *testing.T) {
	s := newServer(t)

	var msg models.Message
	if code := postJSON(t, s.URL+"/api/v1/messages", alertRequestBody, &msg); code != http.StatusAccepted {
		t.Fatalf("POST /messages = %d, want 202", code)
	}
	if msg.ID == "" || msg.From != handlers.Sender || msg.Type != models.MsgAlertRequest {
		t.Errorf("published = %+v", msg)
	}
	if _, ok := msg.Payload.(models.AlertRequest); !ok {
		t.Errorf("payload type = %T, want AlertRequest", msg.Payload)
	}
}

func TestPublishMessage_Rejects(t *testing.T) {
	s := newServer(t)
	cases := map[string]string{
		"no payload":   `{"type": "alert_request"}`,
		"unknown type": `{"type": "bogus", "payload": {}}`,
		"not json":     `{`,
	}
	for name, body := range cases {
		if code := postJSON(t, s.URL+"/api/v1/messages", body, nil); code != http.StatusBadRequest {
			t.Errorf("%s: POST /messages = %d, want 400", name, code)
		}
	}
}

func TestListMessages_Filters(t *testing.T) {
	s := newServer(t)
	var injected models.Message
	postJSON(t, s.URL+"/api/v1/messages", alertRequestBody, &injected)

	var out []models.Message
	getJSON(t, s.URL+"/api/v1/messages?type=alert_request&from=api", &out)
	if len(out) != 1 || out[0].ID != injected.ID {
		t.Errorf("filtered history = %+v, want the injected message", out)
	}

	out = nil
	getJSON(t, s.URL+"/api/v1/messages?from=nobody", &out)
	if len(out) != 0 {
		t.Errorf("history from=nobody = %d messages, want 0", len(out))
	}

	for _, q := range []string{"type=bogus", "limit=-1", "since=yesterday"} {
		if code := getJSON(t, s.URL+"/api/v1/messages?"+q, nil); code != http.StatusBadRequest {
			t.Errorf("GET /messages?%s = %d, want 400", q, code)
		}
	}
}

func TestGetConversation(t *testing.T) {
	s := newServer(t)
	var injected models.Message
	postJSON(t, s.URL+"/api/v1/messages", alertRequestBody, &injected)

	// The alert agent replies with alert_sent correlated to the request.
	var conv []models.Message
	eventually(t, "alert_sent in conversation", func() bool {
		conv = nil
		getJSON(t, s.URL+"/api/v1/conversations/"+injected.ID, &conv)
		return len(conv) >= 2
	})
	if conv[0].ID != injected.ID || conv[1].Type != models.MsgAlertSent {
		t.Errorf("conversation = %v", conv)
	}

	if code := getJSON(t, s.URL+"/api/v1/conversations/missing", nil); code != http.StatusNotFound {
		t.Errorf("GET unknown conversation = %d, want 404", code)
	}
}

// ── Alerts ──────────────────────────────────────────────────

func TestAlerts_AcknowledgeFlow(t *testing.T) {
	s := newServer(t)
	postJSON(t, s.URL+"/api/v1/messages", alertRequestBody, nil)

	var pending []models.Alert
	eventually(t, "pending alert", func() bool {
		pending = nil
		getJSON(t, s.URL+"/api/v1/alerts?pending=true", &pending)
		return len(pending) == 1
	})
	id := pending[0].ID

	if code := postJSON(t, s.URL+"/api/v1/alerts/"+id+"/ack", `{"user_id": "ops"}`, nil); code != http.StatusAccepted {
		t.Fatalf("POST ack = %d, want 202", code)
	}
	eventually(t, "alert acknowledged", func() bool {
		pending = nil
		getJSON(t, s.URL+"/api/v1/alerts?pending=true", &pending)
		return len(pending) == 0
	})

	var history []models.Alert
	getJSON(t, s.URL+"/api/v1/alerts", &history)
	if len(history) != 1 || !history[0].Acknowledged || history[0].AcknowledgedBy != "ops" {
		t.Errorf("history = %+v, want one alert acknowledged by ops", history)
	}

	if code := postJSON(t, s.URL+"/api/v1/alerts/"+id+"/ack", "", nil); code != http.StatusNotFound {
		t.Errorf("second ack = %d, want 404", code)
	}
}

func TestAlerts_AcknowledgeAsCaller(t *testing.T) {
	secret := "s3cret"
	s := newServerWithAuth(t, auth.FromConfig(config.AuthConfig{ServiceSecret: secret}))
	token, err := auth.GenerateToken([]byte(secret), "ops-bot", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	post := func(url, body, token string) int {
		req, _ := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set(auth.ServiceTokenHeader, token)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("POST %s error = %v", url, err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := post(s.URL+"/api/v1/messages", alertRequestBody, ""); code != http.StatusUnauthorized {
		t.Fatalf("anonymous POST /messages = %d, want 401", code)
	}
	if code := getJSON(t, s.URL+"/api/v1/status", nil); code != http.StatusOK {
		t.Errorf("anonymous GET /status = %d, want 200", code)
	}
	if code := post(s.URL+"/api/v1/messages", alertRequestBody, token); code != http.StatusAccepted {
		t.Fatalf("POST /messages with token = %d, want 202", code)
	}

	var pending []models.Alert
	eventually(t, "pending alert", func() bool {
		pending = nil
		getJSON(t, s.URL+"/api/v1/alerts?pending=true", &pending)
		return len(pending) == 1
	})
	if code := post(s.URL+"/api/v1/alerts/"+pending[0].ID+"/ack", "", token); code != http.StatusAccepted {
		t.Fatalf("POST ack = %d, want 202", code)
	}

	var history []models.Alert
	eventually(t, "alert acknowledged", func() bool {
		history = nil
		getJSON(t, s.URL+"/api/v1/alerts", &history)
		return len(history) == 1 && history[0].Acknowledged
	})
	if history[0].AcknowledgedBy != "ops-bot" {
		t.Errorf("AcknowledgedBy = %q, want ops-bot", history[0].AcknowledgedBy)
	}
}

// ── Records & Catalog ───────────────────────────────────────

func TestListRecords(t *testing.T) {
	s := newServer(t)
	now := time.Now().UTC()
	_, err := s.Store.UpsertRecords(context.Background(), []models.Record{
		{ID: "r1", Source: "usgs", Kind: models.RecordEarthquake, Severity: 5, OccurredAt: now.Add(-time.Hour)},
		{ID: "r2", Source: "usgs", Kind: models.RecordEarthquake, Severity: 6, OccurredAt: now},
	})
	if err != nil {
		t.Fatalf("UpsertRecords() error = %v", err)
	}

	var out []models.Record
	getJSON(t, s.URL+"/api/v1/records?limit=1", &out)
	if len(out) != 1 || out[0].ID != "r2" {
		t.Errorf("records = %+v, want newest only", out)
	}
}

func TestEntities(t *testing.T) {
	s := newServer(t)

	var entities []models.Entity
	getJSON(t, s.URL+"/api/v1/entities", &entities)
	if len(entities) != 1 {
		t.Fatalf("entities = %d, want 1", len(entities))
	}

	var score models.RiskScore
	if code := getJSON(t, s.URL+"/api/v1/entities/tsmc-hsinchu/score", &score); code != http.StatusOK {
		t.Fatalf("GET score = %d", code)
	}
	if score.EntityID != "tsmc-hsinchu" || len(score.Factors) != 5 {
		t.Errorf("score = %+v", score)
	}

	var alts []models.Alternative
	getJSON(t, s.URL+"/api/v1/entities/tsmc-hsinchu/alternatives?exclude=China", &alts)
	if len(alts) != 1 || alts[0].Name != "Samsung Foundry" || alts[0].Rank != 1 {
		t.Errorf("alternatives = %+v, want Samsung only", alts)
	}

	if code := getJSON(t, s.URL+"/api/v1/entities/nowhere/score", nil); code != http.StatusNotFound {
		t.Errorf("GET unknown entity score = %d, want 404", code)
	}
}

// ── Real-time ───────────────────────────────────────────────

func TestWebSocket_ThroughMiddleware(t *testing.T) {
	s := newServer(t)

	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	eventually(t, "client registered", func() bool { return s.Hub.Clients() == 1 })

	postJSON(t, s.URL+"/api/v1/messages", alertRequestBody, nil)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f realtime.Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if f.Event != agents.EventAlert {
		t.Errorf("frame event = %q, want %q", f.Event, agents.EventAlert)
	}
}
