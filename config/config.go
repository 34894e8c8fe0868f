package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// DynamoConfig — параметры DynamoDB-драйвера хранилища.
type DynamoConfig struct {
	TableName       string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// SMTPConfig — параметры почтового транспорта уведомлений. Пустой Host
// отключает доставку (уведомления уходят в лог).
type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// Config хранит все конфигурационные параметры приложения.
type Config struct {
	// StoreDriver — "postgres", "dynamo" или "memory".
	StoreDriver string
	DatabaseURL string
	Dynamo      DynamoConfig

	JWTSecretKey string
	ServerPort   int

	SMTP SMTPConfig

	// CompletedRetentionHours — окно хранения завершённых партий в личных
	// списках игроков.
	CompletedRetentionHours int
}

// Load загружает конфигурацию из переменных окружения.
// Опционально подгружает .env файл (полезно для локальной разработки).
func Load() (*Config, error) {
	// Загружаем .env файл, если он есть. Ошибку не считаем фатальной.
	_ = godotenv.Load()

	driver := os.Getenv("STORE_DRIVER")
	if driver == "" {
		driver = "postgres"
	}

	cfg := &Config{
		StoreDriver: driver,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Dynamo: DynamoConfig{
			TableName:       os.Getenv("DYNAMO_TABLE"),
			Region:          os.Getenv("DYNAMO_REGION"),
			Endpoint:        os.Getenv("DYNAMO_ENDPOINT"),
			AccessKeyID:     os.Getenv("DYNAMO_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("DYNAMO_SECRET_ACCESS_KEY"),
		},
		JWTSecretKey: os.Getenv("JWT_SECRET_KEY"),
	}

	switch driver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
		}
	case "dynamo":
		if cfg.Dynamo.TableName == "" {
			return nil, fmt.Errorf("DYNAMO_TABLE environment variable is not set")
		}
	case "memory":
		// Без внешнего хранилища: только для разработки и тестов.
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", driver)
	}

	if cfg.JWTSecretKey == "" {
		return nil, fmt.Errorf("JWT_SECRET_KEY environment variable is not set")
	}

	portStr := os.Getenv("SERVER_PORT")
	if portStr == "" {
		portStr = "8080" // Порт по умолчанию
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT environment variable: %w", err)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", port)
	}
	cfg.ServerPort = port

	retentionStr := os.Getenv("COMPLETED_RETENTION_HOURS")
	if retentionStr == "" {
		retentionStr = "48"
	}
	retention, err := strconv.Atoi(retentionStr)
	if err != nil || retention <= 0 {
		return nil, fmt.Errorf("invalid COMPLETED_RETENTION_HOURS environment variable: %q", retentionStr)
	}
	cfg.CompletedRetentionHours = retention

	smtpPort := 587
	if p := os.Getenv("SMTP_PORT"); p != "" {
		smtpPort, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid SMTP_PORT environment variable: %w", err)
		}
	}
	cfg.SMTP = SMTPConfig{
		Host: os.Getenv("SMTP_HOST"),
		Port: smtpPort,
		User: os.Getenv("SMTP_USER"),
		Pass: os.Getenv("SMTP_PASS"),
		From: os.Getenv("SMTP_FROM"),
	}

	return cfg, nil
}
