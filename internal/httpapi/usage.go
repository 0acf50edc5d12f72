package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"kirakira/backend/internal/quota"
)

type usageView struct {
	Used      int `json:"used"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

func (h Handler) Usage(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	counts, err := h.store.UsageSince(r.Context(), identity.UserID, quota.DayStart(h.now()))
	if err != nil {
		h.logger.Error("load usage failed", zap.String("user_id", identity.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal Server Error")
		return
	}

	out := make(map[string]usageView)
	for _, tier := range quota.Tiers() {
		used := counts[tier.Model]
		out[tier.Model] = usageView{Used: used, Limit: tier.DailyLimit, Remaining: quota.Remaining(tier.DailyLimit, used)}
	}
	writeJSON(w, http.StatusOK, map[string]any{"usage": out})
}
