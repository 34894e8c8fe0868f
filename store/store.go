// Package store предоставляет доступ к персистентному хранилищу записей,
// адресуемых грубым ключом раздела (PK) и тонким сортируемым ключом (SK).
// Поверх него построены все репозитории; сами реализации (PostgreSQL,
// DynamoDB, in-memory) взаимозаменяемы и выбираются конфигурацией.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRecordNotFound  = errors.New("record not found")
	ErrVersionConflict = errors.New("record version conflict")
	// ErrUnavailable — транзиентная недоступность хранилища; вызывающий
	// может повторить с экспоненциальной паузой.
	ErrUnavailable = errors.New("store unavailable")
)

// Record — единица хранения: JSON-полезная нагрузка плюс монотонная версия
// для compare-and-swap.
type Record struct {
	PK      string
	SK      string
	Payload []byte
	Version int64
}

// Store — контракт хранилища. Все операции несут контекст с ограниченным
// таймаутом; блокировок нет, координация — только через версии записей.
type Store interface {
	// Get возвращает запись либо ErrRecordNotFound.
	Get(ctx context.Context, pk, sk string) (*Record, error)

	// Put безусловно записывает запись (upsert), сбрасывая версию.
	Put(ctx context.Context, rec *Record) error

	// Update записывает запись, только если её текущая версия равна
	// expectedVersion; иначе ErrVersionConflict. Версия инкрементируется.
	Update(ctx context.Context, rec *Record, expectedVersion int64) error

	// Delete удаляет запись; отсутствие записи — ErrRecordNotFound.
	Delete(ctx context.Context, pk, sk string) error

	// Query возвращает записи раздела, чей SK начинается с префикса,
	// в порядке возрастания SK. Пустой префикс — весь раздел.
	Query(ctx context.Context, pk, skPrefix string) ([]*Record, error)

	// Add атомарно изменяет именованный счётчик и возвращает новое
	// значение. Отсутствующий счётчик считается нулевым.
	Add(ctx context.Context, pk, sk string, delta int64) (int64, error)
}

const (
	retryAttempts  = 3
	retryBaseDelay = 100 * time.Millisecond
)

// withRetry повторяет fn при транзиентных сбоях хранилища с экспоненциальной
// паузой. Конфликты версий и прочие ошибки не повторяются.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = fn(); !errors.Is(err, ErrUnavailable) {
			return err
		}
		delay := retryBaseDelay << attempt
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
