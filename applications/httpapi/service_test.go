package httpapi

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ventiapi/orchestrator/applications/auth"
	"github.com/ventiapi/orchestrator/applications/queue"
	"github.com/ventiapi/orchestrator/applications/ratelimitpolicy"
	"github.com/ventiapi/orchestrator/applications/scanengine"
	"github.com/ventiapi/orchestrator/applications/specstore"
	"github.com/ventiapi/orchestrator/domain/principal"
	"github.com/ventiapi/orchestrator/infrastructure/cache"
	"github.com/ventiapi/orchestrator/infrastructure/logging"
	"github.com/ventiapi/orchestrator/infrastructure/testutil"
	"github.com/ventiapi/orchestrator/infrastructure/worker"
)

func newTestService(t *testing.T) (*Service, *auth.Manager, *principal.Principal) {
	t.Helper()

	authMgr, err := auth.NewManager("test-signing-secret-at-least-32-bytes!!", time.Hour)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	admin, err := principal.New("admin-1", "admin", "correct horse battery staple", principal.RoleAdmin)
	if err != nil {
		t.Fatalf("principal.New() error = %v", err)
	}
	authMgr.Register(admin)

	root := t.TempDir()
	q := queue.New(10)
	logger := logging.New("test", "error", "text")
	engine := scanengine.New(q, root, cache.NewTTLCache(time.Minute), logger)
	specs := specstore.New(root)
	registry := worker.NewRegistry()

	svc := NewService(authMgr, specs, engine, q, registry, logger, 4, 5, time.Hour)
	return svc, authMgr, admin
}

func TestLoginIssuesTokenForValidCredentials(t *testing.T) {
	svc, _, _ := newTestService(t)

	resp, err := svc.Login(context.Background(), &LoginRequest{Login: "admin", Password: "correct horse battery staple"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if resp.Token == "" {
		t.Fatal("expected a non-empty token")
	}
	if resp.Role != string(principal.RoleAdmin) {
		t.Fatalf("expected admin role, got %s", resp.Role)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.Login(context.Background(), &LoginRequest{Login: "admin", Password: "wrong"}); err == nil {
		t.Fatal("expected an error for an invalid password")
	}
}

func TestStartScanRejectsPrivateTargetWithoutAllowInternal(t *testing.T) {
	svc, authMgr, admin := newTestService(t)
	ctx := adminContext(authMgr, admin)

	specContent := `{"paths": {"/a": {"get": {}}}}`
	_, err := svc.StartScan(ctx, admin.ID, &StartScanRequest{
		TargetURL:   "http://127.0.0.1:9999",
		SpecContent: specContent,
	})
	if err == nil {
		t.Fatal("expected private target to be rejected")
	}
}

func TestStartScanAdmitsPublicTargetWithSpecContent(t *testing.T) {
	svc, authMgr, admin := newTestService(t)
	ctx := adminContext(authMgr, admin)

	specContent := `{"paths": {"/a": {"get": {}}}}`
	resp, err := svc.StartScan(ctx, admin.ID, &StartScanRequest{
		TargetURL:   "https://example.test",
		SpecContent: specContent,
	})
	if err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}
	if resp.ScanID == "" {
		t.Fatal("expected a non-empty scan id")
	}
}

func TestStartScanRejectsDangerousModeFromNonAdmin(t *testing.T) {
	svc, authMgr, _ := newTestService(t)
	user, err := principal.New("user-1", "alice", "hunter22222222", principal.RoleUser)
	if err != nil {
		t.Fatalf("principal.New() error = %v", err)
	}
	authMgr.Register(user)
	ctx := logging.WithRole(context.Background(), string(principal.RoleUser))

	_, err = svc.StartScan(ctx, user.ID, &StartScanRequest{
		TargetURL:     "https://example.test",
		SpecContent:   `{"paths": {}}`,
		DangerousMode: true,
	})
	if err == nil {
		t.Fatal("expected dangerous_mode to be rejected for a non-admin caller")
	}
}

func TestGetScanStatusDeniesNonOwner(t *testing.T) {
	svc, authMgr, admin := newTestService(t)
	ctx := adminContext(authMgr, admin)

	resp, err := svc.StartScan(ctx, admin.ID, &StartScanRequest{
		TargetURL:   "https://example.test",
		SpecContent: `{"paths": {"/a": {"get": {}}}}`,
	})
	if err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}

	outsiderCtx := logging.WithRole(context.Background(), string(principal.RoleUser))
	if _, err := svc.GetScanStatus(outsiderCtx, "someone-else", resp.ScanID); err == nil {
		t.Fatal("expected non-owner, non-admin access to be denied")
	}
}

func TestHealthReportsQueueDepth(t *testing.T) {
	svc, _, _ := newTestService(t)

	h, err := svc.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if h.Status != "ok" {
		t.Fatalf("expected status ok, got %s", h.Status)
	}
}

func TestListScannersExposesBuiltInProfile(t *testing.T) {
	svc, _, _ := newTestService(t)

	profiles, err := svc.ListScanners(context.Background())
	if err != nil {
		t.Fatalf("ListScanners() error = %v", err)
	}
	found := false
	for _, p := range profiles {
		if p.ID == "ventiapi" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the built-in ventiapi profile to be listed")
	}
}

// TestRouterEndToEndLoginAndHealth exercises the wired HTTP router over a
// real loopback listener, covering the unauthenticated login and health
// routes plus bearer-token enforcement on a protected one.
func TestRouterEndToEndLoginAndHealth(t *testing.T) {
	svc, authMgr, _ := newTestService(t)
	logger := logging.New("test", "error", "text")
	policy := ratelimitpolicy.New(logger)
	defer policy.Shutdown()

	srv := testutil.NewHTTPTestServer(t, NewRouter(svc, authMgr, policy, logger))
	defer srv.Close()

	healthResp, err := http.Get(srv.URL + "/v1/healthz")
	if err != nil {
		t.Fatalf("GET /v1/healthz error = %v", err)
	}
	defer healthResp.Body.Close()
	if healthResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from health, got %d", healthResp.StatusCode)
	}

	loginResp, err := http.Post(srv.URL+"/v1/login", "application/json",
		strings.NewReader(`{"login":"admin","password":"correct horse battery staple"}`))
	if err != nil {
		t.Fatalf("POST /v1/login error = %v", err)
	}
	defer loginResp.Body.Close()
	if loginResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from login, got %d", loginResp.StatusCode)
	}

	unauthedResp, err := http.Get(srv.URL + "/v1/scans")
	if err != nil {
		t.Fatalf("GET /v1/scans error = %v", err)
	}
	defer unauthedResp.Body.Close()
	if unauthedResp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unauthenticated scan listing, got %d", unauthedResp.StatusCode)
	}
}

func adminContext(authMgr *auth.Manager, admin *principal.Principal) context.Context {
	return logging.WithRole(context.Background(), string(admin.Role))
}
