package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"

	"leadpilot/internal/batch"
	"leadpilot/internal/config"
	"leadpilot/internal/db"
	"leadpilot/internal/domain"
	"leadpilot/internal/engine"
	"leadpilot/internal/lookup"
	"leadpilot/internal/migrate"
	"leadpilot/internal/oracle"
	"leadpilot/internal/repo"
)

const testTenant = "tenant-1"
const testSecret = "server-test-secret"

type serverOracle struct {
	enrichment oracle.Enrichment
}

func (o *serverOracle) ProposeActions(ctx context.Context, req oracle.ProposeRequest) ([]oracle.ProposedAction, error) {
	return nil, nil
}

func (o *serverOracle) EnrichContact(ctx context.Context, c domain.Contact) (oracle.Enrichment, error) {
	return o.enrichment, nil
}

func (o *serverOracle) DiscoverBusinesses(ctx context.Context, query string, limit int) (string, []oracle.Business, error) {
	return "", nil, nil
}

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, &serverOracle{enrichment: oracle.Enrichment{Company: "Acme"}}, zap.NewNop())
	ctx := context.Background()
	if err := e.Repo.UpsertTenantConfig(ctx, testTenant, config.Default(testTenant)); err != nil {
		t.Fatalf("seed tenant config: %v", err)
	}
	runner := batch.NewRunner(e.Repo, e.Oracle, zap.NewNop())
	runner.Sleep = func(time.Duration) {}
	searcher := lookup.NewSearcher(e.Repo, nil, nil, zap.NewNop())
	handler, err := New(Config{
		Engine:   e,
		Batch:    runner,
		Search:   searcher,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              testSecret,
			AllowLegacyActorHeader: true,
		},
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
		Engine: e,
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

func loginHeaders(t *testing.T, srv *testServer) map[string]string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id":  "tester",
		"tenant_id": testTenant,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var out DevLoginResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + out.Token}
}

func seedServerContact(t *testing.T, srv *testServer, headers map[string]string, id string) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tenants/"+testTenant+"/contacts", map[string]any{
		"id":    id,
		"name":  "Contact " + id,
		"email": id + "@example.com",
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create contact: %d %s", res.StatusCode, string(data))
	}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error.Code
}

func TestRequiresAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tenants/"+testTenant+"/proposals", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("code = %s, want unauthorized", code)
	}
}

func TestHealthIsOpen(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, string(data))
	}
}

func TestProposalLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := loginHeaders(t, srv)
	seedServerContact(t, srv, headers, "c1")

	createRes, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tenants/"+testTenant+"/proposals", map[string]any{
		"type":       "send_message",
		"title":      "Follow up with Ada",
		"contact_id": "c1",
		"payload":    map[string]any{"channel": "email", "body": "hello"},
	}, headers)
	if createRes.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", createRes.StatusCode, string(data))
	}
	var created ProposalResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.Status != "pending" {
		t.Fatalf("status = %s, want pending", created.Status)
	}

	approveRes, approveBody := doJSON(t, srv.Client(), http.MethodPost,
		srv.URL+"/v0/tenants/"+testTenant+"/proposals/"+created.ID+"/approve", map[string]any{}, headers)
	if approveRes.StatusCode != http.StatusOK {
		t.Fatalf("approve: %d %s", approveRes.StatusCode, string(approveBody))
	}
	var approved ProposalResponse
	if err := json.Unmarshal(approveBody, &approved); err != nil {
		t.Fatalf("unmarshal approved: %v", err)
	}
	if approved.Status != "approved" || approved.ResolvedAt == nil {
		t.Fatalf("unexpected approved proposal: %+v", approved)
	}

	// resolving twice returns the conflict envelope
	againRes, againBody := doJSON(t, srv.Client(), http.MethodPost,
		srv.URL+"/v0/tenants/"+testTenant+"/proposals/"+created.ID+"/dismiss", nil, headers)
	if againRes.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", againRes.StatusCode, string(againBody))
	}
	if code := errorCode(t, againBody); code != "conflict" {
		t.Fatalf("code = %s, want conflict", code)
	}
}

func TestAutoApprovedProposalOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := loginHeaders(t, srv)
	seedServerContact(t, srv, headers, "c1")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tenants/"+testTenant+"/proposals", map[string]any{
		"type":       "add_tag",
		"title":      "Tag as hot",
		"contact_id": "c1",
		"payload":    map[string]any{"tag": "Hot"},
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	var created ProposalResponse
	_ = json.Unmarshal(data, &created)
	if created.Status != "auto_approved" {
		t.Fatalf("status = %s, want auto_approved", created.Status)
	}

	undoRes, undoBody := doJSON(t, srv.Client(), http.MethodPost,
		srv.URL+"/v0/tenants/"+testTenant+"/proposals/"+created.ID+"/undo", nil, headers)
	if undoRes.StatusCode != http.StatusOK {
		t.Fatalf("undo: %d %s", undoRes.StatusCode, string(undoBody))
	}
	var undone ProposalResponse
	_ = json.Unmarshal(undoBody, &undone)
	if undone.Status != "dismissed" {
		t.Fatalf("status = %s, want dismissed", undone.Status)
	}
}

func TestUnknownProposalIs404(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := loginHeaders(t, srv)
	res, data := doJSON(t, srv.Client(), http.MethodGet,
		srv.URL+"/v0/tenants/"+testTenant+"/proposals/ghost", nil, headers)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("code = %s, want not_found", code)
	}
}

func TestProposalMutationsScopedToTenant(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := loginHeaders(t, srv)

	foreign, err := srv.Engine.Create(context.Background(), engine.CreateOptions{
		TenantID:    "tenant-2",
		Type:        "send_message",
		Title:       "Follow up",
		PayloadJSON: `{"channel":"email","body":"hi"}`,
		ActorID:     "seed",
	})
	if err != nil {
		t.Fatalf("seed foreign proposal: %v", err)
	}

	// another tenant's proposal is invisible under the caller's path
	res, data := doJSON(t, srv.Client(), http.MethodPost,
		srv.URL+"/v0/tenants/"+testTenant+"/proposals/"+foreign.ID+"/dismiss", nil, headers)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-tenant dismiss: %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("code = %s, want not_found", code)
	}

	// a token bound to tenant-1 cannot act under another tenant's path
	res, data = doJSON(t, srv.Client(), http.MethodPost,
		srv.URL+"/v0/tenants/tenant-2/proposals/"+foreign.ID+"/dismiss", nil, headers)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign path dismiss: %d %s", res.StatusCode, string(data))
	}

	// bulk operations silently skip foreign ids
	res, data = doJSON(t, srv.Client(), http.MethodPost,
		srv.URL+"/v0/tenants/"+testTenant+"/proposals/bulk-dismiss",
		map[string]any{"ids": []string{foreign.ID}}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bulk dismiss: %d %s", res.StatusCode, string(data))
	}
	var bulk BulkResponse
	if err := json.Unmarshal(data, &bulk); err != nil {
		t.Fatalf("unmarshal bulk: %v", err)
	}
	if len(bulk.Resolved) != 0 {
		t.Fatalf("bulk resolved a foreign proposal: %+v", bulk.Resolved)
	}

	got, err := srv.Engine.Repo.GetProposal(context.Background(), foreign.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != string(domain.StatusPending) {
		t.Fatalf("foreign proposal mutated: %s", got.Status)
	}
}

func TestLegacyActorHeader(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet,
		srv.URL+"/v0/tenants/"+testTenant+"/proposals", nil,
		map[string]string{"X-Actor-Id": "legacy-user"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("legacy header rejected: %d %s", res.StatusCode, string(data))
	}
}

func TestAPIKeyAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	secret := "lp-test-key"
	err := srv.Engine.Repo.InsertAPIKey(context.Background(), domain.APIKey{
		ID:        "key-1",
		ActorID:   "integration",
		Name:      "test key",
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("insert api key: %v", err)
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet,
		srv.URL+"/v0/tenants/"+testTenant+"/proposals", nil,
		map[string]string{"X-Api-Key": secret})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key rejected: %d %s", res.StatusCode, string(data))
	}

	badRes, _ := doJSON(t, srv.Client(), http.MethodGet,
		srv.URL+"/v0/tenants/"+testTenant+"/proposals", nil,
		map[string]string{"X-Api-Key": "wrong"})
	if badRes.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad api key accepted: %d", badRes.StatusCode)
	}
}

func TestBatchSubmitAndPoll(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := loginHeaders(t, srv)
	seedServerContact(t, srv, headers, "c1")

	res, data := doJSON(t, srv.Client(), http.MethodPost,
		srv.URL+"/v0/tenants/"+testTenant+"/enrichment/batches", map[string]any{
			"contact_ids": []string{"c1"},
		}, headers)
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("submit: %d %s", res.StatusCode, string(data))
	}
	var submitted struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(data, &submitted); err != nil || submitted.JobID == "" {
		t.Fatalf("bad submit response: %s", string(data))
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		pollRes, pollBody := doJSON(t, srv.Client(), http.MethodGet,
			srv.URL+"/v0/tenants/"+testTenant+"/enrichment/batches/"+submitted.JobID, nil, headers)
		if pollRes.StatusCode != http.StatusOK {
			t.Fatalf("poll: %d %s", pollRes.StatusCode, string(pollBody))
		}
		var job domain.BatchJob
		if err := json.Unmarshal(pollBody, &job); err != nil {
			t.Fatalf("unmarshal job: %v", err)
		}
		if job.Status != domain.BatchProcessing {
			if job.Status != domain.BatchCompleted || job.Processed != 1 {
				t.Fatalf("unexpected terminal job: %+v", job)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never finished")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// another tenant cannot see the job
	otherRes, _ := doJSON(t, srv.Client(), http.MethodGet,
		srv.URL+"/v0/tenants/other/enrichment/batches/"+submitted.JobID, nil, headers)
	if otherRes.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-tenant poll: %d, want 404", otherRes.StatusCode)
	}
}

func TestSetAutonomyOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := loginHeaders(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodPut,
		srv.URL+"/v0/tenants/"+testTenant+"/autonomy/add_tag", map[string]any{
			"tier": "require_approval",
		}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set autonomy: %d %s", res.StatusCode, string(data))
	}

	badRes, badBody := doJSON(t, srv.Client(), http.MethodPut,
		srv.URL+"/v0/tenants/"+testTenant+"/autonomy/add_tag", map[string]any{
			"tier": "full_send",
		}, headers)
	if badRes.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad tier: %d %s", badRes.StatusCode, string(badBody))
	}
}
