package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"

	"intentgate/internal/config"
	"intentgate/internal/db"
	"intentgate/internal/engine"
	"intentgate/internal/migrate"
)

const testJWTSecret = "test-secret"

var actorHeader = map[string]string{"X-Actor-Id": "tester"}

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("proj-1")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := e.InitProject(context.Background(), cfg.Project.ID, "", "", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testJWTSecret, AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error.Code
}

// createFrozenIntent walks a complete contract to frozen over HTTP.
func createFrozenIntent(t *testing.T, srv *testServer) string {
	t.Helper()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/intents", map[string]any{
		"product_name":        "Billing service",
		"product_description": "Invoicing backend",
		"business_goal":       "Bill customers monthly",
		"target_audience":     "Finance team",
		"success_criteria":    "Invoices go out on the 1st",
		"constraints":         []string{"do not remove the payments endpoint"},
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create intent: %d %s", res.StatusCode, string(data))
	}
	var created IntentResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal intent: %v", err)
	}
	for _, step := range []string{"validate", "freeze"} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/intents/"+created.ID+"/"+step, nil, actorHeader)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s intent: %d %s", step, res.StatusCode, string(data))
		}
	}
	return created.ID
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("error code = %s", code)
	}

	// Health stays open.
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestDevLoginBearerFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "dev-user"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("login response: %v %s", err, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("whoami: %d %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	if err := json.Unmarshal(data, &who); err != nil {
		t.Fatalf("unmarshal whoami: %v", err)
	}
	if who.ActorID != "dev-user" || who.Source != "jwt" {
		t.Fatalf("whoami = %+v", who)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token: %d %s", res.StatusCode, string(data))
	}
}

func TestIntentContractOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/intents", map[string]any{
		"product_name": "Billing service",
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	var created IntentResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.Status != "draft" {
		t.Fatalf("status = %s", created.Status)
	}

	// Validating an incomplete draft reports the missing fields.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/intents/"+created.ID+"/validate", nil, actorHeader)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "incomplete_contract" {
		t.Fatalf("error code = %s", code)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/projects/proj-1/intents/"+created.ID, map[string]any{
		"product_description": "Invoicing backend",
		"business_goal":       "Bill customers monthly",
		"target_audience":     "Finance team",
		"success_criteria":    "Invoices go out on the 1st",
		"constraints":         []string{"do not remove the payments endpoint"},
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update: %d %s", res.StatusCode, string(data))
	}

	for _, step := range []string{"validate", "freeze"} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/intents/"+created.ID+"/"+step, nil, actorHeader)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s: %d %s", step, res.StatusCode, string(data))
		}
	}

	// Frozen means no further edits.
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/projects/proj-1/intents/"+created.ID, map[string]any{
		"product_name": "Renamed",
	}, actorHeader)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "contract_immutable" {
		t.Fatalf("error code = %s", code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/intents/"+created.ID+"/verify", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("verify: %d %s", res.StatusCode, string(data))
	}
	var verification IntentVerificationResponse
	if err := json.Unmarshal(data, &verification); err != nil || !verification.Valid {
		t.Fatalf("verification: %v %s", err, string(data))
	}
}

func TestCheckActionRecordsViolation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	intentID := createFrozenIntent(t, srv)

	// A denial is still a 200; the decision rides in the body.
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/intents/"+intentID+"/check-action", map[string]any{
		"action": "remove payments endpoint",
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("check-action: %d %s", res.StatusCode, string(data))
	}
	var check ActionCheckResponse
	if err := json.Unmarshal(data, &check); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if check.Allowed || check.ViolationID == 0 {
		t.Fatalf("expected denial: %+v", check)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj-1/intents/"+intentID+"/violations", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("violations: %d %s", res.StatusCode, string(data))
	}
	var page paginatedViolations
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Disposition != "blocked" {
		t.Fatalf("violations page: %+v", page)
	}
}

func TestLoopOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	intentID := createFrozenIntent(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/loops", map[string]any{
		"intent_id":   intentID,
		"max_actions": 2,
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create loop: %d %s", res.StatusCode, string(data))
	}
	var loop LoopResponse
	if err := json.Unmarshal(data, &loop); err != nil {
		t.Fatalf("unmarshal loop: %v", err)
	}
	if loop.Status != "pending" || loop.MaxActions != 2 {
		t.Fatalf("loop = %+v", loop)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/loops/"+loop.ID+"/start", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start: %d %s", res.StatusCode, string(data))
	}

	for i := 0; i < 2; i++ {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/loops/"+loop.ID+"/actions", map[string]any{
			"action_type": "code_generation",
			"description": fmt.Sprintf("step %d", i),
			"cost_usd":    0.10,
		}, actorHeader)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("record action: %d %s", res.StatusCode, string(data))
		}
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj-1/loops/"+loop.ID+"/limits", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("limits: %d %s", res.StatusCode, string(data))
	}
	var limits LimitStatusResponse
	if err := json.Unmarshal(data, &limits); err != nil {
		t.Fatalf("unmarshal limits: %v", err)
	}
	if limits.WithinLimits || limits.Reason != "action_limit" {
		t.Fatalf("limits = %+v", limits)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/loops/"+loop.ID+"/pause", map[string]any{
		"reason": "action_limit",
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pause: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/loops/"+loop.ID+"/resume", map[string]any{
		"user_response": "raise the ceiling",
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("resume: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj-1/loops/"+loop.ID+"/pauses", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pauses: %d %s", res.StatusCode, string(data))
	}
	var pauses paginatedLoopPauses
	if err := json.Unmarshal(data, &pauses); err != nil {
		t.Fatalf("unmarshal pauses: %v", err)
	}
	if len(pauses.Items) != 1 || pauses.Items[0].ResumedAt == nil {
		t.Fatalf("pauses = %+v", pauses)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/loops/"+loop.ID+"/complete", map[string]any{
		"result": "done",
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/loops/"+loop.ID+"/actions", map[string]any{
		"action_type": "late",
	}, actorHeader)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 after terminal, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "loop_terminated" {
		t.Fatalf("error code = %s", code)
	}
}

func TestLoopRequiresFrozenIntentOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/intents", map[string]any{
		"product_name": "Draft only",
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create intent: %d %s", res.StatusCode, string(data))
	}
	var created IntentResponse
	_ = json.Unmarshal(data, &created)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/loops", map[string]any{
		"intent_id": created.ID,
	}, actorHeader)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "intent_not_frozen" {
		t.Fatalf("error code = %s", code)
	}
}

func TestWorkflowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/workflows", map[string]any{
		"name":  "pipeline",
		"steps": []string{"generate_code", "run_tests"},
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create workflow: %d %s", res.StatusCode, string(data))
	}
	var created struct {
		Workflow WorkflowResponse       `json:"workflow"`
		Steps    []WorkflowStepResponse `json:"steps"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(created.Steps) != 2 {
		t.Fatalf("steps = %+v", created.Steps)
	}
	wfID := created.Workflow.ID

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/workflows/"+wfID+"/start", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj-1/workflows/"+wfID+"/next-step", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("next-step: %d %s", res.StatusCode, string(data))
	}
	var next WorkflowStepResponse
	if err := json.Unmarshal(data, &next); err != nil || next.StepKind != "generate_code" {
		t.Fatalf("next = %v %s", err, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/workflows/"+wfID+"/advance", map[string]any{}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("advance: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/workflows/"+wfID+"/advance", map[string]any{
		"success": false,
		"error":   "tests failed",
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("advance fail: %d %s", res.StatusCode, string(data))
	}
	var advance WorkflowAdvanceResponse
	if err := json.Unmarshal(data, &advance); err != nil {
		t.Fatalf("unmarshal advance: %v", err)
	}
	if !advance.Failed || advance.Workflow.Status != "failed" {
		t.Fatalf("advance = %+v", advance)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj-1/workflows/"+wfID+"/status", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status: %d %s", res.StatusCode, string(data))
	}
	var status WorkflowStatusResponse
	if err := json.Unmarshal(data, &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if status.CompletedSteps != 1 || status.TotalSteps != 2 {
		t.Fatalf("status = %+v", status)
	}
}

func TestEventsFeed(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	createFrozenIntent(t, srv)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj-1/events", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	types := map[string]bool{}
	for _, evt := range page.Items {
		types[evt.Type] = true
	}
	for _, want := range []string{"intent.created", "intent.validated", "intent.frozen"} {
		if !types[want] {
			t.Fatalf("missing event %s in %v", want, types)
		}
	}
}
