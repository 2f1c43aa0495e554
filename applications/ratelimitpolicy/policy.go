// Package ratelimitpolicy wires the Control API's four named rate-limit
// buckets (SPEC §4.2) to infrastructure/middleware's per-key limiter maps.
package ratelimitpolicy

import (
	"net/http"

	"github.com/ventiapi/orchestrator/infrastructure/logging"
	"github.com/ventiapi/orchestrator/infrastructure/middleware"
)

// Bucket names a rate-limit policy recognized by the Control API.
type Bucket string

const (
	BucketLogin     Bucket = "login"
	BucketStartScan Bucket = "start-scan"
	BucketUpload    Bucket = "upload"
	BucketDefault   Bucket = "default"
)

// Policy holds one limiter per named bucket and stops their cleanup
// goroutines together on Shutdown.
type Policy struct {
	limiters map[Bucket]*middleware.RateLimiter
	stops    []func()
}

// New builds a Policy with a limiter per bucket, using each bucket's
// fixed policy defaults (§4.2).
func New(logger *logging.Logger) *Policy {
	configs := map[Bucket]middleware.RateLimiterConfig{
		BucketLogin:     middleware.LoginRateLimiterConfig(logger),
		BucketStartScan: middleware.StartScanRateLimiterConfig(logger),
		BucketUpload:    middleware.UploadRateLimiterConfig(logger),
		BucketDefault:   middleware.DefaultRateLimiterConfig(logger),
	}

	p := &Policy{limiters: make(map[Bucket]*middleware.RateLimiter, len(configs))}
	for bucket, cfg := range configs {
		rl := middleware.NewRateLimiterFromConfig(cfg)
		p.limiters[bucket] = rl
		p.stops = append(p.stops, middleware.StartCleanupFromConfig(rl, cfg))
	}
	return p
}

// Wrap applies the named bucket's limiter to next. An unknown bucket name
// falls back to the default bucket rather than leaving a route unguarded.
func (p *Policy) Wrap(bucket Bucket, next http.Handler) http.Handler {
	rl, ok := p.limiters[bucket]
	if !ok {
		rl = p.limiters[BucketDefault]
	}
	return rl.Handler(next)
}

// Shutdown stops every bucket's background cleanup goroutine.
func (p *Policy) Shutdown() {
	for _, stop := range p.stops {
		stop()
	}
}
