// Package specstore implements the Spec Store (SPEC §4.3): accepting
// uploaded or remotely-fetched OpenAPI content, validating it with
// infrastructure/specsafe, and persisting a canonical copy under the
// artifact root's specs/<scan_id>/<basename> layout (§6.6).
package specstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ventiapi/orchestrator/infrastructure/errors"
	"github.com/ventiapi/orchestrator/infrastructure/httputil"
	"github.com/ventiapi/orchestrator/infrastructure/ratelimit"
	"github.com/ventiapi/orchestrator/infrastructure/resilience"
	"github.com/ventiapi/orchestrator/infrastructure/specsafe"
	"github.com/ventiapi/orchestrator/infrastructure/utils"
	"github.com/ventiapi/orchestrator/pkg/version"
)

// Origin names how spec content reached the store.
type Origin string

const (
	OriginUploadedBytes Origin = "uploaded-bytes"
	OriginURL           Origin = "url"
)

// fetchTimeout bounds a remote spec fetch (§4.3: "bounded size and time").
const fetchTimeout = 15 * time.Second

// fetchRateLimit bounds how often this process dials out for remote specs,
// independent of any single scan's own rps policy knob — a runaway caller
// submitting many spec_url scans back-to-back must not turn the orchestrator
// itself into an unthrottled fetcher against arbitrary hosts.
var fetchRateLimit = ratelimit.RateLimitConfig{RequestsPerSecond: 5, Burst: 10}

// fetchBreaker trips after repeated remote-spec fetch failures so a single
// unreachable spec host doesn't pile up slow timeouts behind every
// subsequent spec_url scan request.
var fetchBreakerConfig = resilience.Config{MaxFailures: 5, Timeout: 30 * time.Second, HalfOpenMax: 2}

// Store persists canonical spec copies under an artifact root.
type Store struct {
	root    string
	client  *ratelimit.RateLimitedClient
	breaker *resilience.CircuitBreaker
}

// New builds a Store rooted at artifactRoot (pkg/config.ArtifactConfig.Root).
func New(artifactRoot string) *Store {
	transport := httputil.DefaultTransportWithMinTLS12()
	if t, ok := transport.(*http.Transport); ok {
		t.DialContext = httputil.SafeDialContext(nil)
	}
	httpClient := &http.Client{
		Timeout:   fetchTimeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= httputil.MaxRedirectDepth {
				return fmt.Errorf("spec fetch exceeded redirect depth %d", httputil.MaxRedirectDepth)
			}
			// DialContext re-validates the resolved address of whatever host
			// req.URL names, but a redirect to a hostname that itself
			// shouldn't be trusted (per the same policy as the original
			// fetch) should be rejected before a connection is even
			// attempted.
			if err := httputil.RejectPrivateHost(req.URL.Hostname()); err != nil {
				return fmt.Errorf("redirect target rejected: %w", err)
			}
			return nil
		},
	}
	return &Store{
		root:    artifactRoot,
		client:  ratelimit.NewRateLimitedClient(httpClient, fetchRateLimit),
		breaker: resilience.New(fetchBreakerConfig),
	}
}

// Ingest validates and persists spec content for scanID, returning the
// decoded document and the opaque on-disk spec reference (§4.3).
func (s *Store) Ingest(scanID string, origin Origin, content []byte, sourceURL string) (specsafe.Document, string, error) {
	switch origin {
	case OriginUploadedBytes:
		return s.ingestBytes(scanID, content, "spec.json")
	case OriginURL:
		return s.ingestURL(scanID, sourceURL)
	default:
		return nil, "", errors.BadRequest(fmt.Sprintf("unrecognized spec source %q", origin))
	}
}

func (s *Store) ingestURL(scanID, rawURL string) (specsafe.Document, string, error) {
	normalized, parsed, err := httputil.NormalizeBaseURL(rawURL, httputil.BaseURLOptions{RejectPrivateHosts: true})
	if err != nil {
		return nil, "", errors.UnsafeTarget(err.Error())
	}

	var content []byte
	var truncated bool
	fetchErr := s.breaker.Execute(context.Background(), func() error {
		return resilience.Retry(context.Background(), resilience.DefaultRetryConfig(), func() error {
			req, err := http.NewRequest(http.MethodGet, normalized, nil)
			if err != nil {
				return err
			}
			req.Header.Set("User-Agent", version.UserAgent())
			resp, err := s.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("spec fetch returned status %d", resp.StatusCode)
			}

			body, trunc, err := httputil.ReadAllWithLimit(resp.Body, specsafe.MaxSpecBytes)
			if err != nil {
				return err
			}
			content, truncated = body, trunc
			return nil
		})
	})
	if fetchErr != nil {
		return nil, "", errors.FetchFailed(fetchErr)
	}
	if truncated {
		return nil, "", errors.SpecTooLarge(specsafe.MaxSpecBytes)
	}

	basename := utils.SanitizeFilename(filepath.Base(parsed.Path))
	if basename == "" || basename == "." || basename == "/" {
		basename = "spec.json"
	}
	return s.ingestBytes(scanID, content, basename)
}

func (s *Store) ingestBytes(scanID string, content []byte, basename string) (specsafe.Document, string, error) {
	doc, err := specsafe.Ingest(content, string(OriginUploadedBytes))
	if err != nil {
		return nil, "", classifyIngestError(err)
	}

	dir := filepath.Join(s.root, "specs", scanID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, "", errors.Internal("failed to create spec directory", err)
	}

	basename = utils.SanitizeFilename(basename)
	if basename == "" {
		basename = "spec.json"
	}
	path := filepath.Join(dir, basename)
	if err := os.WriteFile(path, content, 0o640); err != nil {
		return nil, "", errors.Internal("failed to persist spec", err)
	}

	return doc, path, nil
}

// Read loads a previously persisted spec reference.
func (s *Store) Read(specRef string) ([]byte, error) {
	f, err := os.Open(specRef)
	if err != nil {
		return nil, errors.NotFound("spec", specRef)
	}
	defer f.Close()
	return io.ReadAll(f)
}

func classifyIngestError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "byte limit"):
		return errors.SpecTooLarge(specsafe.MaxSpecBytes)
	case strings.Contains(msg, "disallowed") || strings.Contains(msg, "cycle"):
		return errors.SpecUnsafe(msg)
	default:
		return errors.SpecMalformed(msg)
	}
}
