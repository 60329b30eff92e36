// Package telegram adapts the Telegram Bot API to the pipeline: it is the
// notification channel, the file transfer and the source of new downloads.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tinoosan/mediamgr/internal/downloader"
)

// Bot wraps a BotAPI client.
type Bot struct {
	api     *tgbotapi.BotAPI
	http    *http.Client
	log     *slog.Logger
	fileURL func(fileID string) (string, error)
}

// New authenticates with token.
func New(log *slog.Logger, token string) (*Bot, error) {
	if log == nil {
		log = slog.Default()
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	b := &Bot{api: api, http: &http.Client{}, log: log.With("component", "telegram")}
	b.fileURL = api.GetFileDirectURL
	b.log.Info("authorized", "bot", api.Self.UserName)
	return b, nil
}

// Send posts text to chatID and returns the new message id.
func (b *Bot) Send(_ context.Context, chatID int64, text string) (int, error) {
	msg, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// Edit replaces the text of an earlier message.
func (b *Bot) Edit(_ context.Context, chatID int64, messageID int, text string) error {
	_, err := b.api.Request(tgbotapi.NewEditMessageText(chatID, messageID, text))
	return err
}

// Ping checks the bot credentials are still accepted.
func (b *Bot) Ping(context.Context) error {
	_, err := b.api.GetMe()
	return err
}

// Download streams the file behind d.FileID into dest, truncating any
// earlier partial attempt.
func (b *Bot) Download(ctx context.Context, d downloader.Descriptor, dest string, progress downloader.ProgressFunc) error {
	url, err := b.fileURL(d.FileID)
	if err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 {
			return downloader.Permanent(err)
		}
		return fmt.Errorf("resolve file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return downloader.Permanent(err)
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch file: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return downloader.Permanent(fmt.Errorf("fetch file: status %d", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("fetch file: status %d", resp.StatusCode)
	}

	total := d.Size
	if resp.ContentLength > 0 {
		total = resp.ContentLength
	}
	f, err := os.Create(dest)
	if err != nil {
		return downloader.Permanent(err)
	}
	pw := &progressWriter{w: f, total: total, fn: progress}
	_, copyErr := io.Copy(pw, resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		return fmt.Errorf("write %s: %w", d.Filename, copyErr)
	}
	return closeErr
}

// progressWriter reports cumulative bytes after every write.
type progressWriter struct {
	w     io.Writer
	done  int64
	total int64
	fn    downloader.ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.done += int64(n)
	if p.fn != nil && n > 0 {
		p.fn(p.done, p.total)
	}
	return n, err
}

// Run consumes updates until ctx is cancelled, passing each message to h.
func (b *Bot) Run(ctx context.Context, h *Handler) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	b.log.Info("receiving updates")
	for {
		select {
		case <-ctx.Done():
			b.log.Info("update loop stopped")
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Message != nil {
				h.HandleMessage(ctx, up.Message)
			}
		}
	}
}
