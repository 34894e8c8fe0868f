package repositories

import "github.com/AbstractPlay/session-engine/models"

// Схема ключей хранилища. Грубый ключ (PK) выбирает раздел, тонкий (SK)
// сортируем внутри раздела; все репозитории обязаны ходить в хранилище
// только через эти конструкторы, чтобы раскладка жила в одном месте.
const (
	pkUser      = "USER"
	pkChallenge = "CHALLENGE"
	pkStanding  = "STANDING"
	pkSession   = "SESSION"
	pkCounter   = "COUNTER"
)

func ratingPK(gameType string) string {
	return "RATING#" + gameType
}

func listPK(partition models.ListPartition) string {
	return "LIST#" + string(partition)
}

func standingSK(gameType, challengeID string) string {
	return gameType + "#" + challengeID
}

func counterSK(partition models.ListPartition, gameType string) string {
	return string(partition) + "#" + gameType
}

// Четыре индексных ключа денормализованного веера: общий, по типу игры,
// по игроку и тип+игрок. Ключи по игроку повторяются для каждого участника.
func skListAll(id string) string { return "ALL#" + id }

func skListByType(gameType, id string) string { return "TYPE#" + gameType + "#ALL#" + id }

func skListByPlayer(userID, id string) string { return "PLAYER#" + userID + "#" + id }

func skListByTypePlayer(gameType, userID, id string) string {
	return "TYPE#" + gameType + "#PLAYER#" + userID + "#" + id
}

// FanOutKeys возвращает полный набор тонких ключей, под которыми проекция
// партии должна присутствовать в разделе списка.
func FanOutKeys(entry *models.GameListEntry) []string {
	keys := []string{
		skListAll(entry.ID),
		skListByType(entry.GameType, entry.ID),
	}
	for _, p := range entry.Players {
		keys = append(keys,
			skListByPlayer(p.UserID, entry.ID),
			skListByTypePlayer(entry.GameType, p.UserID, entry.ID),
		)
	}
	return keys
}
