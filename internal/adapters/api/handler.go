package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tweet-scout/internal/domain"
)

// Handler — служебный HTTP API планировщика: ручная постановка задач
// и просмотр аналитики аккаунта.
type Handler struct {
	accounts   domain.AccountRepo
	engagement domain.EngagementRepo
	queue      domain.EngagementQueue
	log        zerolog.Logger
}

// NewHandler создаёт обработчик API.
func NewHandler(accounts domain.AccountRepo, engagement domain.EngagementRepo, queue domain.EngagementQueue, logger zerolog.Logger) *Handler {
	return &Handler{
		accounts:   accounts,
		engagement: engagement,
		queue:      queue,
		log:        logger.With().Str("component", "api").Logger(),
	}
}

// Mount регистрирует маршруты.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/api/accounts/{accountID}/engage", h.enqueueEngagement)
	r.Get("/api/accounts/{accountID}/analytics", h.accountAnalytics)
}

func (h *Handler) accountID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64)
}

func (h *Handler) enqueueEngagement(w http.ResponseWriter, r *http.Request) {
	accountID, err := h.accountID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "некорректный идентификатор аккаунта")
		return
	}
	account, err := h.accounts.GetAccount(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "аккаунт не найден")
			return
		}
		h.log.Error().Err(err).Int64("account_id", accountID).Msg("не удалось получить аккаунт")
		writeError(w, http.StatusInternalServerError, "внутренняя ошибка")
		return
	}
	if account.Status != domain.AccountActive {
		writeError(w, http.StatusConflict, "аккаунт неактивен")
		return
	}

	job := domain.EngagementJob{
		ID:          uuid.NewString(),
		UserID:      account.UserID,
		AccountID:   account.ID,
		Cause:       domain.EngagementCauseManual,
		RequestedAt: time.Now().UTC(),
	}
	if err := h.queue.Enqueue(r.Context(), job); err != nil {
		h.log.Error().Err(err).Int64("account_id", accountID).Msg("не удалось поставить задачу в очередь")
		writeError(w, http.StatusServiceUnavailable, "очередь недоступна")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (h *Handler) accountAnalytics(w http.ResponseWriter, r *http.Request) {
	accountID, err := h.accountID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "некорректный идентификатор аккаунта")
		return
	}
	analytics, ok, err := h.engagement.GetAccountAnalytics(r.Context(), accountID)
	if err != nil {
		h.log.Error().Err(err).Int64("account_id", accountID).Msg("не удалось получить аналитику")
		writeError(w, http.StatusInternalServerError, "внутренняя ошибка")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "аналитика ещё не посчитана")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id":   analytics.AccountID,
		"viral_items":  analytics.ViralItems,
		"last_updated": analytics.LastUpdated.UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
