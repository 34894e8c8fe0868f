package models

import "time"

// SeatingPolicy определяет, как рассаживать игроков при старте партии.
type SeatingPolicy string

const (
	SeatingRandom SeatingPolicy = "random"
	SeatingFirst  SeatingPolicy = "seat-first"
	SeatingSecond SeatingPolicy = "seat-second"
)

// ClockSettings — параметры шахматных часов вызова. Значения в часах.
type ClockSettings struct {
	StartHours     int  `json:"start_hours"`
	IncrementHours int  `json:"increment_hours"`
	MaxHours       int  `json:"max_hours"`
	Hard           bool `json:"hard"`
}

// Start возвращает стартовое время места.
func (c ClockSettings) Start() time.Duration {
	return time.Duration(c.StartHours) * time.Hour
}

// Increment возвращает добавку за ход.
func (c ClockSettings) Increment() time.Duration {
	return time.Duration(c.IncrementHours) * time.Hour
}

// Max возвращает потолок времени места.
func (c ClockSettings) Max() time.Duration {
	return time.Duration(c.MaxHours) * time.Hour
}

// Challenge — предложение начать партию. Прямой вызов адресован конкретным
// игрокам (Invited); открытый (Standing) доступен всем и может порождать
// несколько партий подряд.
type Challenge struct {
	ID              string        `json:"id"`
	GameType        string        `json:"game_type"`
	RequiredPlayers int           `json:"required_players"`
	Seating         SeatingPolicy `json:"seating"`
	Variants        []string      `json:"variants,omitempty"`
	Clock           ClockSettings `json:"clock"`
	Rated           bool          `json:"rated"`

	ChallengerID   string `json:"challenger_id"`
	ChallengerName string `json:"challenger_name"`

	// Invited заполняется только для прямых вызовов.
	Invited []string `json:"invited,omitempty"`
	// Accepted всегда содержит самого вызывающего.
	Accepted []string `json:"accepted"`

	Standing bool `json:"standing"`
	// Duration > 0 — открытый вызов истекает после N партий; Duration == 1
	// означает последнюю партию. 0 — без ограничения.
	Duration int `json:"duration,omitempty"`
	// ParentID указывает на исходный открытый вызов, из которого этот был
	// продублирован при первом принятии (только requiredPlayers > 2).
	ParentID string `json:"parent_id,omitempty"`
	// Spawned — счётчик дубликатов, порождённых этим вызовом.
	Spawned int `json:"spawned,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	Version   int64     `json:"-"`
}

// IsInvited сообщает, приглашён ли пользователь в прямой вызов.
func (c *Challenge) IsInvited(userID string) bool {
	for _, id := range c.Invited {
		if id == userID {
			return true
		}
	}
	return false
}

// HasAccepted сообщает, занял ли пользователь уже место в вызове.
func (c *Challenge) HasAccepted(userID string) bool {
	for _, id := range c.Accepted {
		if id == userID {
			return true
		}
	}
	return false
}
