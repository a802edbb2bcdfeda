package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrCredentialMissing возвращается, если у аккаунта нет access-токена.
var ErrCredentialMissing = errors.New("у аккаунта отсутствует access-токен")

// ErrReauthenticationRequired возвращается, когда refresh-токен отклонён
// провайдером: аккаунт переводится в PAUSED до повторной привязки.
var ErrReauthenticationRequired = errors.New("требуется повторная авторизация аккаунта")

// ErrTokenRefreshFailed возвращается при временной ошибке обновления токена.
var ErrTokenRefreshFailed = errors.New("не удалось обновить access-токен")

// ErrRetryExhausted возвращается, когда исчерпан лимит повторов внешнего вызова.
var ErrRetryExhausted = errors.New("исчерпан лимит повторов")

// ErrAccountNotFound возвращается при обращении к несуществующему аккаунту.
var ErrAccountNotFound = errors.New("аккаунт не найден")

// ErrProfileNotFound возвращается, если у аккаунта нет профиля отслеживания.
var ErrProfileNotFound = errors.New("профиль отслеживания не найден")

// PlatformError описывает ошибку внешнего API с числовым статусом.
// Governor интерпретирует статус: 429 — ожидание до сброса лимита,
// 5xx — повтор с экспоненциальной задержкой, остальные — без повтора.
type PlatformError struct {
	StatusCode int
	Code       string
	Message    string
	// RateLimitReset — момент сброса лимита из заголовков ответа, если был.
	RateLimitReset time.Time
}

func (e *PlatformError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("платформа: статус %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("платформа: статус %d: %s", e.StatusCode, e.Message)
}

// IsRateLimited сообщает, что ответ был HTTP 429.
func (e *PlatformError) IsRateLimited() bool { return e.StatusCode == 429 }

// IsServerError сообщает, что ответ был 5xx.
func (e *PlatformError) IsServerError() bool { return e.StatusCode >= 500 }

// IsInvalidGrant сообщает, что провайдер отклонил сам refresh-токен.
func (e *PlatformError) IsInvalidGrant() bool { return e.Code == "invalid_grant" }
