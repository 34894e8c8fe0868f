// Package rules описывает контракт движков правил конкретных игр. Ядро
// жизненного цикла партий не знает правил ни одной игры: оно работает с
// движком через этот интерфейс и набор capability-флагов, а конкретные
// реализации регистрируются в Registry по идентификатору типа игры.
package rules

import (
	"errors"
	"fmt"
	"sync"
)

// Flag — capability движка правил, учитываемая ядром.
type Flag string

const (
	// FlagSimultaneous — все места ходят одновременно, ход применяется
	// целым туром.
	FlagSimultaneous Flag = "simultaneous"
	// FlagPerspective — непервые места получают поворот доски.
	FlagPerspective Flag = "perspective"
	// FlagRotate90 — при трёх и более местах поворот кратен 90°.
	FlagRotate90 Flag = "rotate90"
	// FlagPie — второй игрок может один раз поменяться местами.
	FlagPie Flag = "pie"
	// FlagAutomove — единственный легальный ответ применяется автоматически.
	FlagAutomove Flag = "automove"
	// FlagScores — движок ведёт счёт по очкам.
	FlagScores Flag = "scores"
)

var ErrUnknownGame = errors.New("unknown game type")

// Game — одна партия в терминах движка правил. Номера мест в этом интерфейсе
// 1-based; ядро хранит места 0-based и конвертирует на границе.
type Game interface {
	// Move применяет один ход. Для одновременных игр payload — это
	// склеенный через запятую полный тур, по слоту на место.
	Move(payload string) error

	// ValidateMove проверяет ход без применения. Используется для проверки
	// частичных сабмитов одновременных игр по мере их поступления.
	ValidateMove(payload string) error

	// Resign фиксирует сдачу указанного места.
	Resign(seat int) error

	// Timeout фиксирует просрочку указанного места.
	Timeout(seat int) error

	// Draw фиксирует ничью по соглашению.
	Draw() error

	// GameOver сообщает, окончена ли партия, и номера выигравших мест.
	GameOver() (bool, []int)

	// Eliminated сообщает, выбыло ли место из партии.
	Eliminated(seat int) bool

	// LegalMoves возвращает легальные продолжения из текущей позиции.
	LegalMoves() []string

	// Serialize возвращает состояние партии для хранения.
	Serialize() ([]byte, error)
}

// Factory создаёт новую партию для заданного числа игроков и вариантов.
type Factory func(playerCount int, variants []string) (Game, error)

// Loader восстанавливает партию из сериализованного состояния.
type Loader func(state []byte) (Game, error)

// Info — метаданные зарегистрированного типа игры.
type Info struct {
	Type       string
	Flags      []Flag
	MinPlayers int
	MaxPlayers int
}

type registration struct {
	info    Info
	factory Factory
	loader  Loader
}

// Registry — реестр движков правил по идентификатору типа игры.
type Registry struct {
	mu    sync.RWMutex
	games map[string]registration
}

func NewRegistry() *Registry {
	return &Registry{games: make(map[string]registration)}
}

// Register добавляет движок в реестр. Повторная регистрация того же типа
// замещает предыдущую.
func (r *Registry) Register(info Info, factory Factory, loader Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.games[info.Type] = registration{info: info, factory: factory, loader: loader}
}

// New создаёт начальное состояние партии указанного типа.
func (r *Registry) New(gameType string, playerCount int, variants []string) (Game, error) {
	r.mu.RLock()
	reg, ok := r.games[gameType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGame, gameType)
	}
	return reg.factory(playerCount, variants)
}

// Load восстанавливает партию из сохранённого состояния.
func (r *Registry) Load(gameType string, state []byte) (Game, error) {
	r.mu.RLock()
	reg, ok := r.games[gameType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGame, gameType)
	}
	return reg.loader(state)
}

// Info возвращает метаданные типа игры.
func (r *Registry) Info(gameType string) (Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.games[gameType]
	if !ok {
		return Info{}, fmt.Errorf("%w: %q", ErrUnknownGame, gameType)
	}
	return reg.info, nil
}

// HasFlag сообщает, объявляет ли тип игры указанную capability. Неизвестный
// тип просто не имеет флагов.
func (r *Registry) HasFlag(gameType string, flag Flag) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.games[gameType]
	if !ok {
		return false
	}
	for _, f := range reg.info.Flags {
		if f == flag {
			return true
		}
	}
	return false
}
