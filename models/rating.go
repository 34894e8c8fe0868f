package models

// DefaultRating — стартовый рейтинг нового игрока.
const DefaultRating = 1200

// Rating — рейтинговая запись игрока по одному типу игры. Обновляется только
// рейтинговым движком и только для рейтинговых партий двух игроков.
type Rating struct {
	UserID   string  `json:"user_id"`
	GameType string  `json:"game_type"`
	Rating   float64 `json:"rating"`
	// N — число сыгранных рейтинговых партий.
	N     int `json:"n"`
	Wins  int `json:"wins"`
	Draws int `json:"draws"`
}

// NewRating возвращает запись по умолчанию {1200, 0, 0, 0}.
func NewRating(userID, gameType string) *Rating {
	return &Rating{
		UserID:   userID,
		GameType: gameType,
		Rating:   DefaultRating,
	}
}
