package models

import "time"

// ListPartition — раздел денормализованных списков партий.
type ListPartition string

const (
	ListCurrent   ListPartition = "CURRENT"
	ListCompleted ListPartition = "COMPLETED"
)

// PlayerRef — краткая ссылка на игрока в проекции списка.
type PlayerRef struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// GameListEntry — денормализованная проекция партии для листингов. Живёт под
// несколькими индексными ключами одновременно и переписывается при каждом
// событии, затрагивающем партию. Согласована с GameSession в конечном счёте,
// а не транзакционно.
type GameListEntry struct {
	ID          string      `json:"id"`
	GameType    string      `json:"game_type"`
	Players     []PlayerRef `json:"players"`
	ClockHard   bool        `json:"clock_hard"`
	ToMove      TurnState   `json:"to_move"`
	StartedAt   time.Time   `json:"started_at"`
	LastMoveAt  time.Time   `json:"last_move_at"`
	CompletedAt time.Time   `json:"completed_at,omitempty"`
	Winner      []int       `json:"winner,omitempty"`
}

// SummaryOf строит проекцию из авторитетной записи.
func SummaryOf(g *GameSession) *GameListEntry {
	players := make([]PlayerRef, len(g.Players))
	for i, p := range g.Players {
		players[i] = PlayerRef{UserID: p.UserID, Name: p.Name}
	}
	return &GameListEntry{
		ID:          g.ID,
		GameType:    g.GameType,
		Players:     players,
		ClockHard:   g.Clock.Hard,
		ToMove:      g.ToMove,
		StartedAt:   g.StartedAt,
		LastMoveAt:  g.LastMoveAt,
		CompletedAt: g.CompletedAt,
		Winner:      g.Winner,
	}
}
