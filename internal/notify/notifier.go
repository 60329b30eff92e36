// Package notify sends user-visible messages through the shared channel,
// holding the channel token for every send or edit.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tinoosan/mediamgr/internal/metrics"
	"github.com/tinoosan/mediamgr/internal/token"
)

// Channel is the outgoing messaging transport.
type Channel interface {
	Send(ctx context.Context, chatID int64, text string) (int, error)
	Edit(ctx context.Context, chatID int64, messageID int, text string) error
}

// Sender is what the pipeline components depend on.
type Sender interface {
	Notify(ctx context.Context, owner string, chatID int64, sev Severity, text string) (int, error)
	Edit(ctx context.Context, owner string, chatID int64, messageID int, sev Severity, text string) error
}

// Service implements Sender on top of a Channel and a token coordinator.
type Service struct {
	ch          Channel
	tokens      *token.Coordinator
	defaultChat int64
	timeout     time.Duration
	log         *slog.Logger
}

// NewService builds a Service. ch may be nil, in which case notifications
// are only logged. defaultChat is used when a caller passes chat id 0.
func NewService(log *slog.Logger, ch Channel, tokens *token.Coordinator, defaultChat int64, timeout time.Duration) *Service {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{ch: ch, tokens: tokens, defaultChat: defaultChat, timeout: timeout, log: log.With("component", "notify")}
}

// Notify sends a new message and returns its id. On token timeout the
// message is dropped, logged at warn level and token.ErrTimeout returned.
func (s *Service) Notify(ctx context.Context, owner string, chatID int64, sev Severity, text string) (int, error) {
	chatID = s.chat(chatID)
	if s.ch == nil || chatID == 0 {
		s.log.Info("notification", "owner", owner, "severity", sev.String(), "text", text)
		metrics.Notifications.WithLabelValues(sev.String(), "logged").Inc()
		return 0, nil
	}
	var id int
	err := s.tokens.WithToken(ctx, owner, s.timeout, func(ctx context.Context) error {
		var err error
		id, err = s.ch.Send(ctx, chatID, sev.Format(text))
		return err
	})
	s.record(owner, sev, text, err)
	return id, err
}

// Edit replaces the text of an earlier message.
func (s *Service) Edit(ctx context.Context, owner string, chatID int64, messageID int, sev Severity, text string) error {
	chatID = s.chat(chatID)
	if s.ch == nil || chatID == 0 || messageID == 0 {
		s.log.Debug("notification edit", "owner", owner, "severity", sev.String(), "text", text)
		return nil
	}
	err := s.tokens.WithToken(ctx, owner, s.timeout, func(ctx context.Context) error {
		return s.ch.Edit(ctx, chatID, messageID, sev.Format(text))
	})
	s.record(owner, sev, text, err)
	return err
}

func (s *Service) chat(id int64) int64 {
	if id == 0 {
		return s.defaultChat
	}
	return id
}

func (s *Service) record(owner string, sev Severity, text string, err error) {
	switch {
	case err == nil:
		metrics.Notifications.WithLabelValues(sev.String(), "sent").Inc()
	case errors.Is(err, token.ErrTimeout), errors.Is(err, token.ErrStopped):
		metrics.Notifications.WithLabelValues(sev.String(), "dropped").Inc()
		s.log.Warn("notification dropped, channel busy", "owner", owner, "severity", sev.String(), "text", text, "err", err)
	default:
		metrics.Notifications.WithLabelValues(sev.String(), "failed").Inc()
		s.log.Error("notification failed", "owner", owner, "severity", sev.String(), "err", err)
	}
}
