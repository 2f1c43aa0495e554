package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"sync"

	"github.com/ventiapi/orchestrator/infrastructure/httputil"
	sllogging "github.com/ventiapi/orchestrator/infrastructure/logging"
)

type auditEvent struct {
	ctx       context.Context
	reason    string
	method    string
	path      string
	clientIP  string
	userAgent string
}

var (
	auditLogger = sllogging.NewFromEnv("orchestrator")
	auditOnce   sync.Once
	auditQueue  chan *auditEvent
)

func enqueueAudit(event *auditEvent) {
	if event == nil {
		return
	}
	auditOnce.Do(func() {
		auditQueue = make(chan *auditEvent, 256)
		go func() {
			for auditEvent := range auditQueue {
				if auditEvent == nil {
					continue
				}
				fields := map[string]interface{}{
					"audit":      true,
					"event_type": "internal_gate_reject",
					"reason":     auditEvent.reason,
					"method":     auditEvent.method,
					"path":       auditEvent.path,
					"client_ip":  auditEvent.clientIP,
					"user_agent": auditEvent.userAgent,
				}
				auditLogger.WithContext(auditEvent.ctx).WithFields(fields).Warn("internal gate rejected request")
			}
		}()
	})

	select {
	case auditQueue <- event:
	default:
		// Never block request processing for audit logging.
	}
}

// InternalGateMiddleware guards a non-public listener (the Prometheus scrape
// endpoint) with a shared secret instead of the bearer-token auth the
// Control API uses, so scraping doesn't require minting a principal.
// sharedSecret == "" disables the gate (local/dev default).
func InternalGateMiddleware(sharedSecret string) func(http.Handler) http.Handler {
	expectedSecretHash := sha256.Sum256([]byte(sharedSecret))

	return func(next http.Handler) http.Handler {
		if sharedSecret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			receivedSecret := r.Header.Get("X-Shared-Secret")
			if receivedSecret == "" {
				enqueueAudit(&auditEvent{
					ctx: r.Context(), reason: "missing_secret", method: r.Method, path: r.URL.Path,
					clientIP: httputil.ClientIP(r), userAgent: r.UserAgent(),
				})
				httputil.Unauthorized(w, "unauthorized")
				return
			}

			receivedSecretHash := sha256.Sum256([]byte(receivedSecret))
			if subtle.ConstantTimeCompare(receivedSecretHash[:], expectedSecretHash[:]) != 1 {
				enqueueAudit(&auditEvent{
					ctx: r.Context(), reason: "invalid_secret", method: r.Method, path: r.URL.Path,
					clientIP: httputil.ClientIP(r), userAgent: r.UserAgent(),
				})
				httputil.Unauthorized(w, "unauthorized")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
