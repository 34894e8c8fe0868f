package services

import "errors"

// Общая таксономия ошибок ядра. Обработчики HTTP мапят их на статусы;
// сервисы оборачивают через fmt.Errorf("%w: ...", ...), сохраняя сентинел.
var (
	// Цель уже разрешена или удалена другой стороной. Доброкачественная
	// гонка: для принятия вызова вызывающий обязан трактовать как no-op.
	ErrNotFound = errors.New("requested resource not found")

	// Предусловия авторизации и состояния — отклоняются без повторов.
	ErrNotEligible    = errors.New("user is not eligible for this challenge")
	ErrNotParticipant = errors.New("user is not a participant")
	ErrNotOwner       = errors.New("only the challenger can perform this action")
	ErrNotYourTurn    = errors.New("it is not this player's turn")

	// Нарушения предусловий машины состояний.
	ErrAlreadySubmitted = errors.New("move already submitted for this turn")
	ErrAlreadyOver      = errors.New("game is already over")
	ErrNoTimeout        = errors.New("no clock has expired")
	ErrPieUnavailable   = errors.New("pie rule is not available in this game")

	// Дефекты целостности данных: громко логируются, операция прерывается,
	// сохранённое состояние не трогается.
	ErrUnknownGameType = errors.New("unknown game type")
	ErrInvalidOutcome  = errors.New("invalid winner set on completed game")

	// Проигрыш оптимистической конкуренции после исчерпания повторов.
	// Клиент может перечитать состояние и повторить.
	ErrConflict = errors.New("concurrent update conflict")

	// Транзиентная недоступность хранилища.
	ErrStoreUnavailable = errors.New("persistent store unavailable")
)
