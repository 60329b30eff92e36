package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/tinoosan/mediamgr/internal/data"
	"github.com/tinoosan/mediamgr/internal/downloader"
	"github.com/tinoosan/mediamgr/internal/notify"
)

const notifyOwner = "bot"

const helpText = `Send me a document, video or audio file and I will download it.

Commands:
/status - active and queued downloads
/queue - queued downloads
/stats - download history totals
/settings - download settings
/cancel <id> - cancel a download`

// Downloads is the part of the download manager the bot drives.
type Downloads interface {
	Enqueue(d downloader.Descriptor) (string, error)
	Cancel(id string) error
	Status() downloader.Summary
}

// StatsSource reports history totals. It may be nil.
type StatsSource interface {
	Stats(ctx context.Context) (data.Stats, error)
}

// Settings is what /settings reports.
type Settings struct {
	DownloadDir   string
	MaxConcurrent int
	// SpeedLimit is bytes per second; 0 is unlimited.
	SpeedLimit int64
}

// Handler turns chat messages into pipeline actions.
type Handler struct {
	downloads Downloads
	stats     StatsSource
	notifier  notify.Sender
	settings  Settings
	allowed   map[int64]struct{}
	log       *slog.Logger
	now       func() time.Time
}

// NewHandler builds a Handler. An empty allowed list accepts every chat.
func NewHandler(log *slog.Logger, d Downloads, stats StatsSource, n notify.Sender, allowed []int64) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{downloads: d, stats: stats, notifier: n, log: log.With("component", "bot"), now: time.Now}
	if len(allowed) > 0 {
		h.allowed = make(map[int64]struct{}, len(allowed))
		for _, id := range allowed {
			h.allowed[id] = struct{}{}
		}
	}
	return h
}

// SetSettings sets the values reported by /settings.
func (h *Handler) SetSettings(s Settings) { h.settings = s }

func (h *Handler) permitted(chatID int64) bool {
	if h.allowed == nil {
		return true
	}
	_, ok := h.allowed[chatID]
	return ok
}

// HandleMessage dispatches one incoming message.
func (h *Handler) HandleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg == nil || msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID
	log := h.log.With("operation_id", uuid.NewString(), "chat_id", chatID)
	if !h.permitted(chatID) {
		log.Warn("message from chat not on allow list")
		return
	}
	if msg.IsCommand() {
		h.command(ctx, log, chatID, msg.Command(), strings.TrimSpace(msg.CommandArguments()))
		return
	}
	d, ok := descriptorFromMessage(msg)
	if !ok {
		return
	}
	id, err := h.downloads.Enqueue(d)
	switch {
	case errors.Is(err, downloader.ErrDuplicate):
		h.reply(ctx, chatID, notify.Info, "Already downloading: "+d.Filename)
	case errors.Is(err, downloader.ErrClosed):
		h.reply(ctx, chatID, notify.Warning, "Shutting down, not accepting new downloads")
	case err != nil:
		log.Error("enqueue", "file", d.Filename, "err", err)
		h.reply(ctx, chatID, notify.Error, fmt.Sprintf("Could not queue %s: %v", d.Filename, err))
	default:
		log.Info("media received", "id", id, "file", d.Filename, "size", d.Size)
	}
}

func (h *Handler) command(ctx context.Context, log *slog.Logger, chatID int64, cmd, args string) {
	log.Debug("command", "command", cmd)
	switch cmd {
	case "start", "help":
		h.reply(ctx, chatID, notify.Info, helpText)
	case "status":
		h.reply(ctx, chatID, notify.Info, h.downloads.Status().Render(h.now()))
	case "queue":
		h.reply(ctx, chatID, notify.Info, queueText(h.downloads.Status()))
	case "stats":
		h.reply(ctx, chatID, notify.Info, h.statsText(ctx))
	case "settings":
		h.reply(ctx, chatID, notify.Info, settingsText(h.settings))
	case "cancel":
		if args == "" {
			h.reply(ctx, chatID, notify.Warning, "Usage: /cancel <id>")
			return
		}
		if err := h.downloads.Cancel(args); err != nil {
			if errors.Is(err, data.ErrNotFound) {
				h.reply(ctx, chatID, notify.Warning, "No download with id "+args)
				return
			}
			h.reply(ctx, chatID, notify.Error, "Cancel failed: "+err.Error())
			return
		}
		h.reply(ctx, chatID, notify.Info, "Cancelling "+args)
	default:
		h.reply(ctx, chatID, notify.Warning, "Unknown command /"+cmd+". Try /help")
	}
}

func (h *Handler) statsText(ctx context.Context) string {
	if h.stats == nil {
		return "History is not enabled"
	}
	s, err := h.stats.Stats(ctx)
	if err != nil {
		h.log.Error("stats", "err", err)
		return "Could not load stats"
	}
	return fmt.Sprintf("Downloads: %d\nSucceeded: %d\nFailed: %d\nTotal size: %s",
		s.Total, s.Succeeded, s.Failed, downloader.HumanSize(s.Bytes))
}

func settingsText(s Settings) string {
	limit := "unlimited"
	if s.SpeedLimit > 0 {
		limit = downloader.HumanSize(s.SpeedLimit) + "/s"
	}
	dir := s.DownloadDir
	if dir == "" {
		dir = "not set"
	}
	return fmt.Sprintf("Download directory: %s\nMax concurrent downloads: %d\nSpeed limit: %s", dir, s.MaxConcurrent, limit)
}

func queueText(s downloader.Summary) string {
	if s.Queued == 0 {
		return "Queue is empty"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Queued downloads: %d", s.Queued)
	n := 0
	for _, t := range s.Tasks {
		if t.Status != data.StatusQueued {
			continue
		}
		n++
		fmt.Fprintf(&b, "\n%d. %s [%s]", n, t.Filename, t.FileID)
	}
	return b.String()
}

func (h *Handler) reply(ctx context.Context, chatID int64, sev notify.Severity, text string) {
	if h.notifier == nil {
		return
	}
	if _, err := h.notifier.Notify(ctx, notifyOwner, chatID, sev, text); err != nil {
		h.log.Warn("reply dropped", "chat_id", chatID, "err", err)
	}
}

// descriptorFromMessage extracts the downloadable attachment, if any.
func descriptorFromMessage(msg *tgbotapi.Message) (downloader.Descriptor, bool) {
	var (
		fileID, name string
		size         int
	)
	switch {
	case msg.Document != nil:
		fileID, name, size = msg.Document.FileID, msg.Document.FileName, msg.Document.FileSize
	case msg.Video != nil:
		fileID, name, size = msg.Video.FileID, msg.Video.FileName, msg.Video.FileSize
	case msg.Audio != nil:
		fileID, name, size = msg.Audio.FileID, msg.Audio.FileName, msg.Audio.FileSize
	default:
		return downloader.Descriptor{}, false
	}
	if fileID == "" {
		return downloader.Descriptor{}, false
	}
	if strings.TrimSpace(name) == "" {
		name = fileID
	}
	return downloader.Descriptor{
		FileID:    fileID,
		Filename:  name,
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Size:      int64(size),
	}, true
}
