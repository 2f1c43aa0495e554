package httpapi

import (
	"context"
	"net/http"

	"github.com/ventiapi/orchestrator/applications/auth"
	"github.com/ventiapi/orchestrator/applications/ratelimitpolicy"
	"github.com/ventiapi/orchestrator/applications/scanengine"
	"github.com/ventiapi/orchestrator/infrastructure/errors"
	"github.com/ventiapi/orchestrator/infrastructure/httputil"
	"github.com/ventiapi/orchestrator/infrastructure/logging"
)

// NewRouter builds the Control API's mux, wiring every §4.9 operation
// behind bearer-token authentication (except login and health) and the
// matching §4.2 rate-limit bucket.
func NewRouter(svc *Service, authMgr *auth.Manager, policy *ratelimitpolicy.Policy, logger *logging.Logger) http.Handler {
	mux := http.NewServeMux()
	authn := authenticate(authMgr)

	mountRoutes(mux,
		route{
			pattern: "/v1/login",
			method:  http.MethodPost,
			handler: policy.Wrap(ratelimitpolicy.BucketLogin, httputil.HandleJSON(logger, svc.Login)).ServeHTTP,
		},
		route{
			pattern: "/v1/healthz",
			method:  http.MethodGet,
			handler: httputil.HandleNoBody(logger, svc.Health),
		},
		route{
			pattern: "/v1/scans",
			method:  http.MethodPost,
			handler: authn(policy.Wrap(ratelimitpolicy.BucketStartScan, httputil.HandleJSONWithUserAuth(logger, svc.StartScan))).ServeHTTP,
		},
		route{
			pattern: "/v1/scans",
			method:  http.MethodGet,
			handler: authn(policy.Wrap(ratelimitpolicy.BucketDefault, httputil.HandleNoBodyWithUserAuth(logger, svc.listScansHandler))).ServeHTTP,
		},
		route{
			pattern: "/v1/scanners",
			method:  http.MethodGet,
			handler: authn(policy.Wrap(ratelimitpolicy.BucketDefault, httputil.HandleNoBody(logger, svc.ListScanners))).ServeHTTP,
		},
		route{
			pattern: "/v1/scans/",
			handler: authn(policy.Wrap(ratelimitpolicy.BucketDefault, http.HandlerFunc(svc.scanResourceHandler))).ServeHTTP,
		},
	)

	return mux
}

// listScansHandler adapts ListScans to the HandleNoBodyWithUserAuth shape.
func (s *Service) listScansHandler(ctx context.Context, principalID string) ([]scanengine.Status, error) {
	return s.ListScans(ctx, principalID)
}

// scanResourceHandler dispatches "/v1/scans/{id}" and
// "/v1/scans/{id}/findings" by method and path shape, since these routes
// carry a path-embedded scan id that the generic HandleJSON wrappers
// cannot extract on their own.
func (s *Service) scanResourceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}

	if findingsID := httputil.PathParam(r.URL.Path, "/v1/scans/", "/findings"); findingsID != "" {
		if r.Method != http.MethodGet {
			httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		offset, limit := httputil.PaginationParams(r, 50, 200)
		page, err := s.GetScanFindings(r.Context(), userID, findingsID, offset, limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, page)
		return
	}

	scanID := httputil.PathParamAt(r.URL.Path, 2)
	if scanID == "" {
		httputil.NotFound(w, "scan id is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		status, err := s.GetScanStatus(r.Context(), userID, scanID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, status)
	case http.MethodDelete:
		if _, err := s.DeleteScan(r.Context(), userID, scanID); err != nil {
			writeServiceError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]bool{"deleted": true})
	default:
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// writeServiceError maps a *errors.ServiceError to its declared HTTP
// status, falling back to a generic 500 for anything else.
func writeServiceError(w http.ResponseWriter, err error) {
	if svcErr := errors.GetServiceError(err); svcErr != nil {
		httputil.WriteErrorWithCode(w, svcErr.HTTPStatus, string(svcErr.Code), svcErr.Message)
		return
	}
	httputil.InternalError(w, "internal server error")
}
