package services

import (
	"time"

	"github.com/AbstractPlay/session-engine/models"
)

// Чистая арифметика шахматных часов. Состояния у этих функций нет; всё
// время передаётся явно, чтобы свойства проверялись без хранилища.

// ApplyElapsed возвращает новый остаток времени места после хода.
// Если затрачено больше, чем оставалось, результат равен ровно increment:
// противник не заявил просрочку, считаем, что часы дошли до нуля, а не ушли
// в минус. Иначе — min(остаток − затрачено + increment, max).
func ApplyElapsed(seatTime, elapsed, increment, max time.Duration) time.Duration {
	if seatTime-elapsed < 0 {
		return increment
	}
	result := seatTime - elapsed + increment
	if result > max {
		return max
	}
	return result
}

// TimedOutSeat возвращает 0-based номер места, чьи часы истекли, либо -1.
// Для последовательных партий проверяется единственное активное место; для
// одновременных — все места, ещё должные ход, и выбирается самый глубокий
// минус. Личность заявителя роли не играет.
func TimedOutSeat(session *models.GameSession, now time.Time) int {
	if session.Completed() {
		return -1
	}
	elapsed := now.Sub(session.LastMoveAt)

	if session.ToMove.Simultaneous {
		worstSeat := -1
		var worstMargin time.Duration
		for seat, owes := range session.ToMove.Flags {
			if !owes {
				continue
			}
			margin := session.Players[seat].TimeRemaining - elapsed
			if margin < 0 && (worstSeat == -1 || margin < worstMargin) {
				worstSeat = seat
				worstMargin = margin
			}
		}
		return worstSeat
	}

	seat := session.ToMove.Seat
	if seat < 0 || seat >= len(session.Players) {
		return -1
	}
	if session.Players[seat].TimeRemaining-elapsed < 0 {
		return seat
	}
	return -1
}
