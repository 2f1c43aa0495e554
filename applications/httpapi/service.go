package httpapi

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ventiapi/orchestrator/applications/auth"
	"github.com/ventiapi/orchestrator/applications/partition"
	"github.com/ventiapi/orchestrator/applications/queue"
	"github.com/ventiapi/orchestrator/applications/scanengine"
	"github.com/ventiapi/orchestrator/applications/specstore"
	"github.com/ventiapi/orchestrator/domain/principal"
	"github.com/ventiapi/orchestrator/domain/scan"
	"github.com/ventiapi/orchestrator/domain/specdoc"
	"github.com/ventiapi/orchestrator/infrastructure/errors"
	"github.com/ventiapi/orchestrator/infrastructure/httputil"
	"github.com/ventiapi/orchestrator/infrastructure/logging"
	"github.com/ventiapi/orchestrator/infrastructure/specsafe"
	"github.com/ventiapi/orchestrator/infrastructure/worker"
)

// Service composes every application-layer component into the eight
// Control API operations of §4.9.
type Service struct {
	auth     *auth.Manager
	specs    *specstore.Store
	engine   *scanengine.Engine
	queue    *queue.Queue
	registry *worker.Registry
	logger   *logging.Logger

	defaultChunkSize    int
	maxParallelism      int
	scanRetention       time.Duration
	defaultFindingLimit int
	maxFindingLimit     int
}

// NewService wires the Control API's dependencies together.
func NewService(authMgr *auth.Manager, specs *specstore.Store, engine *scanengine.Engine, q *queue.Queue, registry *worker.Registry, logger *logging.Logger, defaultChunkSize, maxParallelism int, scanRetention time.Duration) *Service {
	return &Service{
		auth:                authMgr,
		specs:               specs,
		engine:              engine,
		queue:               q,
		registry:            registry,
		logger:              logger,
		defaultChunkSize:    defaultChunkSize,
		maxParallelism:      maxParallelism,
		scanRetention:       scanRetention,
		defaultFindingLimit: 50,
		maxFindingLimit:     200,
	}
}

// --- login ---

// LoginRequest is the §4.9 login request body.
type LoginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// LoginResponse carries the issued bearer token.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Role      string    `json:"role"`
}

// Login authenticates a caller and issues a bearer token (§4.9 login).
func (s *Service) Login(ctx context.Context, req *LoginRequest) (LoginResponse, error) {
	p, err := s.auth.Authenticate(req.Login, req.Password)
	if err != nil {
		s.logger.LogSecurityEvent(ctx, "login_failed", map[string]interface{}{"login": req.Login})
		return LoginResponse{}, errors.InvalidCredentials()
	}
	token, exp, err := s.auth.Issue(p)
	if err != nil {
		return LoginResponse{}, errors.Internal("failed to issue token", err)
	}
	s.logger.LogSecurityEvent(ctx, "login_succeeded", map[string]interface{}{"principal_id": p.ID})
	return LoginResponse{Token: token, ExpiresAt: exp, Role: string(p.Role)}, nil
}

// --- start-scan ---

// StartScanRequest is the §4.9/§6.2 start-scan request body.
type StartScanRequest struct {
	TargetURL     string   `json:"target_url"`
	SpecURL       string   `json:"spec_url,omitempty"`
	SpecContent   string   `json:"spec_content,omitempty"`
	Scanners      []string `json:"scanners,omitempty"`
	DangerousMode bool     `json:"dangerous_mode,omitempty"`
	FuzzAuth      bool     `json:"fuzz_auth,omitempty"`
	MaxRequests   int      `json:"max_requests,omitempty"`
	RPS           float64  `json:"rps,omitempty"`
	ParallelMode  *bool    `json:"parallel_mode,omitempty"`
	ChunkSize     int      `json:"chunk_size,omitempty"`
	AllowInternal bool     `json:"allow_internal,omitempty"`
}

// StartScanResponse is the §4.9 start-scan response.
type StartScanResponse struct {
	ScanID string     `json:"scan_id"`
	State  scan.State `json:"state"`
}

// StartScan validates the target and spec source, partitions the spec,
// admits jobs to the queue, and returns the created scan (§4.9
// start-scan). dangerous_mode requires the admin role.
func (s *Service) StartScan(ctx context.Context, principalID string, req *StartScanRequest) (StartScanResponse, error) {
	// dangerous_mode/allow_internal re-check the live Principal record
	// rather than trusting the bearer token's embedded role claim, so a
	// principal demoted or deactivated after the token was issued loses
	// admin access immediately (§4.1 stale-claim closing).
	if req.DangerousMode && s.auth.RequirePrincipalRole(principalID, principal.RoleAdmin) != nil {
		return StartScanResponse{}, errors.Forbidden("dangerous_mode requires the admin role")
	}
	if req.AllowInternal && s.auth.RequirePrincipalRole(principalID, principal.RoleAdmin) != nil {
		return StartScanResponse{}, errors.Forbidden("allow_internal requires the admin role")
	}
	if strings.TrimSpace(req.TargetURL) == "" {
		return StartScanResponse{}, errors.BadRequest("target_url is required")
	}

	normalized, _, err := httputil.NormalizeBaseURL(req.TargetURL, httputil.BaseURLOptions{
		RejectPrivateHosts: !req.AllowInternal,
	})
	if err != nil {
		return StartScanResponse{}, errors.UnsafeTarget(err.Error())
	}

	opts := scan.DefaultOptions()
	if len(req.Scanners) > 0 {
		opts.Scanners = req.Scanners
	}
	opts.DangerousMode = req.DangerousMode
	opts.FuzzAuth = req.FuzzAuth
	if req.MaxRequests > 0 {
		opts.MaxRequests = req.MaxRequests
	}
	if req.RPS > 0 {
		opts.RPS = req.RPS
	}
	opts.ParallelMode = true
	if req.ParallelMode != nil {
		opts.ParallelMode = *req.ParallelMode
	}
	opts.ChunkSize = s.defaultChunkSize
	if req.ChunkSize > 0 {
		opts.ChunkSize = req.ChunkSize
	}
	opts.AllowInternal = req.AllowInternal

	scanID := uuid.New().String()

	var (
		doc      specsafe.Document
		specRef  string
		ingestOK bool
	)
	if strings.TrimSpace(req.SpecURL) != "" {
		d, ref, err := s.specs.Ingest(scanID, specstore.OriginURL, nil, req.SpecURL)
		if err != nil {
			return StartScanResponse{}, err
		}
		doc, specRef, ingestOK = d, ref, true
	} else if strings.TrimSpace(req.SpecContent) != "" {
		d, ref, err := s.specs.Ingest(scanID, specstore.OriginUploadedBytes, []byte(req.SpecContent), "")
		if err != nil {
			return StartScanResponse{}, err
		}
		doc, specRef, ingestOK = d, ref, true
	}
	if !ingestOK {
		return StartScanResponse{}, errors.BadRequest("one of spec_url or spec_content is required")
	}

	plan := partition.Plan(scanID, specdoc.Document(doc), opts.ChunkSize, s.maxParallelism, !opts.ParallelMode)

	created, err := s.engine.StartScan(ctx, scanID, principalID, normalized, specRef, opts, plan, s.scanRetention)
	if err != nil {
		return StartScanResponse{}, err
	}

	s.logger.LogSecurityEvent(ctx, "scan_admitted", map[string]interface{}{
		"scan_id": scanID, "principal_id": principalID, "dangerous_mode": opts.DangerousMode,
	})

	return StartScanResponse{ScanID: created.ID, State: created.State}, nil
}

// --- get-scan-status ---

// GetScanStatus returns a scan's current status (§4.9), enforcing
// owner-or-admin access.
func (s *Service) GetScanStatus(ctx context.Context, principalID, scanID string) (scanengine.Status, error) {
	if err := s.authorizeScanAccess(ctx, principalID, scanID); err != nil {
		return scanengine.Status{}, err
	}
	return s.engine.GetStatus(scanID)
}

// --- get-scan-findings ---

// GetScanFindings returns a paginated page of merged findings (§4.9),
// enforcing owner-or-admin access and requiring a terminal scan state.
func (s *Service) GetScanFindings(ctx context.Context, principalID, scanID string, offset, limit int) (scanengine.FindingsPage, error) {
	if err := s.authorizeScanAccess(ctx, principalID, scanID); err != nil {
		return scanengine.FindingsPage{}, err
	}
	if limit <= 0 {
		limit = s.defaultFindingLimit
	}
	if limit > s.maxFindingLimit {
		limit = s.maxFindingLimit
	}
	return s.engine.GetFindings(ctx, scanID, offset, limit)
}

// --- list-scans ---

// ListScans returns the caller's scans, or every scan for an admin caller
// (§4.9 list-scans).
func (s *Service) ListScans(ctx context.Context, principalID string) ([]scanengine.Status, error) {
	isAdmin := s.auth.RequirePrincipalRole(principalID, principal.RoleAdmin) == nil
	return s.engine.List(principalID, isAdmin), nil
}

// --- delete-scan ---

// DeleteScan removes a scan's state and artifacts, cancelling active
// workers first (§4.9 delete-scan).
func (s *Service) DeleteScan(ctx context.Context, principalID, scanID string) (struct{}, error) {
	if err := s.authorizeScanAccess(ctx, principalID, scanID); err != nil {
		return struct{}{}, err
	}
	return struct{}{}, s.engine.DeleteScan(scanID)
}

// --- list-scanners ---

// ScannerProfile is the public view of a worker profile (§6.3).
type ScannerProfile struct {
	ID                   string   `json:"id"`
	DisplayName          string   `json:"display_name"`
	Description          string   `json:"description"`
	SupportedTargetKinds []string `json:"supported_target_kinds"`
}

// ListScanners returns the configured worker profiles (§4.9 list-scanners).
func (s *Service) ListScanners(ctx context.Context) ([]ScannerProfile, error) {
	profiles := s.registry.List()
	out := make([]ScannerProfile, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, ScannerProfile{
			ID:                   p.ID,
			DisplayName:          p.DisplayName,
			Description:          p.Description,
			SupportedTargetKinds: p.SupportedTargetKinds,
		})
	}
	return out, nil
}

// --- health ---

// HealthResponse is the §4.9 health response (unauthenticated).
type HealthResponse struct {
	Status      string `json:"status"`
	QueueDepth  int    `json:"queue_depth"`
	ActiveJobs  int    `json:"active_jobs"`
}

// Health reports service health and queue depth (§4.9 health).
func (s *Service) Health(ctx context.Context) (HealthResponse, error) {
	return HealthResponse{
		Status:     "ok",
		QueueDepth: s.queue.Depth(),
		ActiveJobs: s.queue.Active(),
	}, nil
}

// authorizeScanAccess enforces owner-or-admin access to a scan resource.
func (s *Service) authorizeScanAccess(ctx context.Context, principalID, scanID string) error {
	owner, err := s.engine.Owner(scanID)
	if err != nil {
		return err
	}
	if owner == principalID || s.auth.RequirePrincipalRole(principalID, principal.RoleAdmin) == nil {
		return nil
	}
	return errors.Forbidden("caller does not own this scan")
}

