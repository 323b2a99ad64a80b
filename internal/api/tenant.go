package api

import (
	"context"
	"net/http"
	"strconv"
)

type contextKey string

const tenantKey contextKey = "tenant_id"

// RequireTenant extracts the X-Tenant-ID header and stores it on the request
// context. Requests without a parseable tenant are rejected before reaching
// any handler, so handlers can assume TenantFromContext succeeds.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-Tenant-ID")
		if raw == "" {
			respondError(w, http.StatusBadRequest, "missing X-Tenant-ID header")
			return
		}
		tenantID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || tenantID <= 0 {
			respondError(w, http.StatusBadRequest, "invalid X-Tenant-ID header")
			return
		}
		ctx := context.WithValue(r.Context(), tenantKey, tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TenantFromContext returns the tenant stored by RequireTenant.
func TenantFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(tenantKey).(int64)
	return id, ok
}

// tenantID is the handler-side accessor; RequireTenant guarantees presence
// on every /api route, so a miss here means a routing mistake.
func tenantID(r *http.Request) int64 {
	id, _ := TenantFromContext(r.Context())
	return id
}
