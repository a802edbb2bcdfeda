package schedule

import (
	"sort"
	"sync"

	"tweet-scout/internal/domain"
)

// Registry — явный реестр активных пользователей планировщика.
// Наполняется из БД при старте; глобального состояния нет, каждый
// экземпляр планировщика владеет своим реестром.
type Registry struct {
	mu    sync.RWMutex
	users map[int64]domain.User
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{users: make(map[int64]domain.User)}
}

// Register добавляет или обновляет пользователя.
func (r *Registry) Register(user domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
}

// Unregister убирает пользователя из реестра.
func (r *Registry) Unregister(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, userID)
}

// Snapshot возвращает срез пользователей в стабильном порядке.
func (r *Registry) Snapshot() []domain.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.User, 0, len(r.users))
	for _, user := range r.users {
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len возвращает количество зарегистрированных пользователей.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
