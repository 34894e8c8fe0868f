package services

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/smtp"
	"text/template"

	"golang.org/x/text/language"

	"github.com/AbstractPlay/session-engine/repositories"
)

// Notifier — исходящие уведомления игрокам. Локаль передаётся явным
// параметром на каждый вызов; никакого процессного «текущего языка» нет.
// Ошибки доставки вызывающие глотают после логирования: уведомление никогда
// не валит основную операцию.
type Notifier interface {
	Send(ctx context.Context, userID, templateKey, locale string, params map[string]any) error
}

// Ключи шаблонов, используемые ядром.
const (
	TemplateChallengeReceived = "challenge_received"
	TemplateChallengeAccepted = "challenge_accepted"
	TemplateChallengeRevoked  = "challenge_revoked"
	TemplateChallengeDeclined = "challenge_declined"
	TemplateGameStarted       = "game_started"
	TemplateYourTurn          = "your_turn"
	TemplateGameOver          = "game_over"
)

var supportedLocales = []language.Tag{
	language.English, // fallback
	language.Russian,
	language.German,
	language.French,
}

var localeMatcher = language.NewMatcher(supportedLocales)

// Каталог шаблонов: ключ -> локаль -> (тема, тело). Тело — text/template
// поверх params.
type notifyTemplate struct {
	Subject string
	Body    string
}

var templateCatalog = map[string]map[language.Tag]notifyTemplate{
	TemplateChallengeReceived: {
		language.English: {"You have been challenged", "{{.challenger}} has challenged you to a game of {{.game}}."},
		language.Russian: {"Вам брошен вызов", "{{.challenger}} вызывает вас на партию в {{.game}}."},
	},
	TemplateChallengeAccepted: {
		language.English: {"Challenge accepted", "{{.accepter}} accepted your {{.game}} challenge."},
		language.Russian: {"Вызов принят", "{{.accepter}} принял ваш вызов в {{.game}}."},
	},
	TemplateChallengeRevoked: {
		language.English: {"Challenge withdrawn", "The {{.game}} challenge from {{.challenger}} was withdrawn."},
		language.Russian: {"Вызов отозван", "Вызов в {{.game}} от {{.challenger}} отозван."},
	},
	TemplateChallengeDeclined: {
		language.English: {"Challenge declined", "{{.decliner}} declined the {{.game}} challenge."},
		language.Russian: {"Вызов отклонён", "{{.decliner}} отклонил вызов в {{.game}}."},
	},
	TemplateGameStarted: {
		language.English: {"Your game has started", "Your game of {{.game}} has started. It is {{.to_move}}'s turn."},
		language.Russian: {"Партия началась", "Партия в {{.game}} началась. Ходит {{.to_move}}."},
	},
	TemplateYourTurn: {
		language.English: {"Your move", "It is your turn in your game of {{.game}}."},
		language.Russian: {"Ваш ход", "Ваш ход в партии в {{.game}}."},
	},
	TemplateGameOver: {
		language.English: {"Game over", "Your game of {{.game}} has ended."},
		language.Russian: {"Партия окончена", "Партия в {{.game}} завершена."},
	},
}

// resolveTemplate подбирает лучший шаблон под локаль получателя; при
// отсутствии перевода используется английский.
func resolveTemplate(templateKey, locale string) (notifyTemplate, error) {
	byLocale, ok := templateCatalog[templateKey]
	if !ok {
		return notifyTemplate{}, fmt.Errorf("unknown notification template %q", templateKey)
	}

	tag, _ := language.MatchStrings(localeMatcher, locale)
	base, _ := tag.Base()
	for candidate, tmpl := range byLocale {
		if cb, _ := candidate.Base(); cb == base {
			return tmpl, nil
		}
	}
	return byLocale[language.English], nil
}

func renderTemplate(tmpl notifyTemplate, params map[string]any) (subject, body string, err error) {
	t, err := template.New("notify").Parse(tmpl.Body)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse notification template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, params); err != nil {
		return "", "", fmt.Errorf("failed to render notification template: %w", err)
	}
	return tmpl.Subject, buf.String(), nil
}

// SMTPConfig — параметры почтового транспорта.
type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// smtpNotifier доставляет уведомления по электронной почте.
type smtpNotifier struct {
	cfg      SMTPConfig
	userRepo repositories.UserRepository
	logger   *slog.Logger
}

func NewSMTPNotifier(cfg SMTPConfig, userRepo repositories.UserRepository, logger *slog.Logger) Notifier {
	return &smtpNotifier{cfg: cfg, userRepo: userRepo, logger: logger}
}

func (n *smtpNotifier) Send(ctx context.Context, userID, templateKey, locale string, params map[string]any) error {
	user, err := n.userRepo.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to resolve notification recipient %s: %w", userID, err)
	}
	if user.Email == "" {
		// Игрок без почты — уведомлять некуда, это не ошибка.
		return nil
	}

	tmpl, err := resolveTemplate(templateKey, locale)
	if err != nil {
		return err
	}
	subject, body, err := renderTemplate(tmpl, params)
	if err != nil {
		return err
	}

	return n.deliver(user.Email, subject, body)
}

func (n *smtpNotifier) deliver(to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	auth := smtp.PlainAuth("", n.cfg.User, n.cfg.Pass, n.cfg.Host)

	msg := []byte("To: " + to + "\r\n" +
		"From: " + n.cfg.From + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-version: 1.0;\r\nContent-Type: text/plain; charset=\"UTF-8\";\r\n" +
		"\r\n" +
		body + "\r\n")

	tlsConfig := &tls.Config{ServerName: n.cfg.Host}

	var client *smtp.Client
	if n.cfg.Port == 465 {
		conn, err := tls.Dial("tcp", addr, tlsConfig)
		if err != nil {
			return fmt.Errorf("smtp tls dial: %w", err)
		}
		defer conn.Close()
		client, err = smtp.NewClient(conn, n.cfg.Host)
		if err != nil {
			return fmt.Errorf("smtp client: %w", err)
		}
	} else {
		c, err := smtp.Dial(addr)
		if err != nil {
			return fmt.Errorf("smtp dial: %w", err)
		}
		client = c
		if err = client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	defer client.Quit()

	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := client.Mail(n.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err = w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("smtp close: %w", err)
	}
	return nil
}

// logNotifier пишет уведомления в лог вместо доставки. Используется при
// пустой SMTP-конфигурации и в тестах.
type logNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) Notifier {
	return &logNotifier{logger: logger}
}

func (n *logNotifier) Send(_ context.Context, userID, templateKey, locale string, params map[string]any) error {
	n.logger.Info("notification",
		slog.String("user_id", userID),
		slog.String("template", templateKey),
		slog.String("locale", locale),
		slog.Any("params", params))
	return nil
}
