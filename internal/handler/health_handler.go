package handler

import (
	"net/http"
	"time"
)

// HealthHandler は死活監視用のハンドラー。
type HealthHandler struct {
	environment string
	now         func() time.Time
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(environment string) *HealthHandler {
	return &HealthHandler{environment: environment, now: time.Now}
}

type healthResponse struct {
	Status      string    `json:"status"`
	Environment string    `json:"environment"`
	Timestamp   time.Time `json:"timestamp"`
}

// Health はサーバーの稼働状態を返す。
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Environment: h.environment,
		Timestamp:   h.now().UTC(),
	})
}
