package models

// ChallengeRefStatus — роль пользователя по отношению к вызову.
type ChallengeRefStatus string

const (
	ChallengeIssued   ChallengeRefStatus = "issued"
	ChallengeReceived ChallengeRefStatus = "received"
	ChallengeAccepted ChallengeRefStatus = "accepted"
	ChallengeStanding ChallengeRefStatus = "standing"
)

// ChallengeRef — ссылка на вызов в личном списке пользователя.
type ChallengeRef struct {
	ID       string             `json:"id"`
	GameType string             `json:"game_type"`
	Status   ChallengeRefStatus `json:"status"`
}

// User — запись игрока: профиль плюс личные денормализованные списки
// (ссылки на вызовы и краткие сводки партий). Создание и аутентификация
// пользователей — забота внешней системы идентичности; здесь запись
// дополняется по мере участия в вызовах и партиях.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Locale string `json:"locale,omitempty"`

	Challenges []ChallengeRef  `json:"challenges,omitempty"`
	Games      []GameListEntry `json:"games,omitempty"`

	// GamesUpdate — оптимистический счётчик версий личного списка партий.
	// Перепись списка выполняется только через compare-and-swap по нему.
	GamesUpdate int64 `json:"games_update"`

	Version int64 `json:"-"`
}

// ChallengeRefIndex возвращает позицию ссылки на вызов либо -1.
func (u *User) ChallengeRefIndex(challengeID string) int {
	for i, ref := range u.Challenges {
		if ref.ID == challengeID {
			return i
		}
	}
	return -1
}
