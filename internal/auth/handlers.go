package auth

import (
	"net/http"
	"time"

	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/subscription"
)

// Handler reports the caller's identity and entitlement.
type Handler struct {
	Now func() time.Time
}

// Me handles GET /api/v1/me.
func (h Handler) Me(w http.ResponseWriter, r *http.Request) {
	registerID, ok := common.RegisterID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
		return
	}
	now := time.Now()
	if h.Now != nil {
		now = h.Now()
	}
	sub := subscription.FromContext(r.Context())
	body := map[string]any{
		"registerId":    registerID,
		"subscription":  sub,
		"active":        sub.IsActive(now),
		"daysRemaining": sub.DaysRemaining(now),
		"limits":        sub.Limits(),
	}
	if warning := sub.Warning(now); warning != "" {
		body["warning"] = warning
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": body})
}
