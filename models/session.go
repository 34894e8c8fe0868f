package models

import (
	"encoding/json"
	"strings"
	"time"
)

// DrawStatus — состояние предложения ничьей на конкретном месте.
type DrawStatus string

const (
	DrawNone     DrawStatus = ""
	DrawOffered  DrawStatus = "offered"
	DrawAccepted DrawStatus = "accepted"
)

// Seat — место игрока в партии. Идентичность игрока и номер места — разные
// вещи: после pie-swap игрок остаётся тем же, а место меняется.
type Seat struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	// TimeRemaining — остаток на часах этого места.
	TimeRemaining time.Duration `json:"time_remaining"`
	// Rotation — поворот доски для этого места в градусах (capability
	// "perspective"/"rotate90").
	Rotation int        `json:"rotation,omitempty"`
	Draw     DrawStatus `json:"draw,omitempty"`
}

// TurnState кодирует, чей сейчас ход. Для последовательных игр это индекс
// места (Seat), для одновременных — флаг на каждое место (Flags), где true
// означает «ход за этим местом ещё не сдан». Очищенное состояние (Seat == -1
// или все флаги false) означает завершённую партию.
type TurnState struct {
	Seat         int    `json:"seat"`
	Flags        []bool `json:"flags,omitempty"`
	Simultaneous bool   `json:"simultaneous,omitempty"`
}

// NewSequentialTurn возвращает состояние «ходит место 0».
func NewSequentialTurn() TurnState {
	return TurnState{Seat: 0}
}

// NewSimultaneousTurn возвращает состояние «ход должны сдать все места».
func NewSimultaneousTurn(numSeats int) TurnState {
	flags := make([]bool, numSeats)
	for i := range flags {
		flags[i] = true
	}
	return TurnState{Seat: -1, Flags: flags, Simultaneous: true}
}

// Active сообщает, должен ли ход указанный seat (0-based).
func (t TurnState) Active(seat int) bool {
	if t.Simultaneous {
		return seat >= 0 && seat < len(t.Flags) && t.Flags[seat]
	}
	return t.Seat == seat
}

// Cleared — партия завершена, ходов больше не принимается.
func (t TurnState) Cleared() bool {
	if t.Simultaneous {
		for _, f := range t.Flags {
			if f {
				return false
			}
		}
		return true
	}
	return t.Seat < 0
}

// Clear переводит состояние в терминальное.
func (t *TurnState) Clear() {
	t.Seat = -1
	for i := range t.Flags {
		t.Flags[i] = false
	}
}

// GameSession — авторитетная запись партии. Создаётся при старте матча,
// мутируется обработчиком ходов, никогда не удаляется — только переезжает
// между «текущим» и «завершённым» разделами денормализованных списков.
type GameSession struct {
	ID       string   `json:"id"`
	GameType string   `json:"game_type"`
	Variants []string `json:"variants,omitempty"`

	Players []Seat    `json:"players"`
	ToMove  TurnState `json:"to_move"`

	// State — сериализованное состояние движка правил, для ядра непрозрачно.
	State json.RawMessage `json:"state"`

	// PartialMove — буфер одновременных ходов: по слоту на место, через
	// запятую. Пустая строка — буфер чист.
	PartialMove string `json:"partial_move,omitempty"`

	Clock      ClockSettings `json:"clock"`
	Rated      bool          `json:"rated"`
	StartedAt  time.Time     `json:"started_at"`
	LastMoveAt time.Time     `json:"last_move_at"`

	// Winner — номера выигравших мест, 1-based (соглашение движков правил).
	// Несколько номеров — ничья между ними.
	Winner      []int     `json:"winner,omitempty"`
	NumMoves    int       `json:"num_moves"`
	PieInvoked  bool      `json:"pie_invoked,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`

	// Log — служебные пометки по партии (pie-swap и т.п.).
	Log []string `json:"log,omitempty"`

	Version int64 `json:"-"`
}

// SeatOf возвращает 0-based номер места пользователя либо -1.
func (g *GameSession) SeatOf(userID string) int {
	for i, p := range g.Players {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

// Completed — партия завершена.
func (g *GameSession) Completed() bool {
	return g.ToMove.Cleared()
}

// PartialSlots разбирает буфер одновременных ходов на слоты по местам.
func (g *GameSession) PartialSlots() []string {
	if g.PartialMove == "" {
		return make([]string, len(g.Players))
	}
	return strings.Split(g.PartialMove, ",")
}

// SetPartialSlots собирает буфер обратно.
func (g *GameSession) SetPartialSlots(slots []string) {
	g.PartialMove = strings.Join(slots, ",")
}

// PlayerIDs возвращает идентификаторы игроков в порядке мест.
func (g *GameSession) PlayerIDs() []string {
	ids := make([]string, len(g.Players))
	for i, p := range g.Players {
		ids[i] = p.UserID
	}
	return ids
}
