package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tinoosan/mediamgr/internal/token"
)

type fakeChannel struct {
	mu    sync.Mutex
	sent  []string
	chats []int64
	edits map[int]string
	err   error
}

func (f *fakeChannel) Send(_ context.Context, chatID int64, text string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.sent = append(f.sent, text)
	f.chats = append(f.chats, chatID)
	return len(f.sent), nil
}

func (f *fakeChannel) Edit(_ context.Context, _ int64, id int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.edits == nil {
		f.edits = map[int]string{}
	}
	f.edits[id] = text
	return f.err
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifyFormatsAndUsesDefaultChat(t *testing.T) {
	ch := &fakeChannel{}
	s := NewService(quiet(), ch, token.New(quiet(), token.Options{}), 77, time.Second)

	id, err := s.Notify(context.Background(), "downloader", 0, Success, "done")
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected message id 1 got %d", id)
	}
	if ch.sent[0] != "✅ done" {
		t.Fatalf("unexpected text %q", ch.sent[0])
	}
	if ch.chats[0] != 77 {
		t.Fatalf("expected default chat 77 got %d", ch.chats[0])
	}

	if err := s.Edit(context.Background(), "downloader", 5, id, Progress, "50%"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if ch.edits[1] != "🔄 50%" {
		t.Fatalf("unexpected edit %q", ch.edits[1])
	}
}

func TestNotifyTimesOutWhenTokenHeld(t *testing.T) {
	ch := &fakeChannel{}
	tokens := token.New(quiet(), token.Options{})
	tokens.Acquire(context.Background(), "someone-else", time.Second)
	s := NewService(quiet(), ch, tokens, 1, 20*time.Millisecond)

	_, err := s.Notify(context.Background(), "watcher", 0, Warning, "late")
	if !errors.Is(err, token.ErrTimeout) {
		t.Fatalf("expected ErrTimeout got %v", err)
	}
	if len(ch.sent) != 0 {
		t.Fatalf("message sent without the token")
	}
}

func TestNotifyWithoutChannelLogsOnly(t *testing.T) {
	s := NewService(quiet(), nil, token.New(quiet(), token.Options{}), 0, time.Second)
	if _, err := s.Notify(context.Background(), "bot", 0, Info, "hello"); err != nil {
		t.Fatalf("expected nil error got %v", err)
	}
}

func TestSeverityPrefixes(t *testing.T) {
	cases := map[Severity]string{
		Info:     "ℹ️",
		Success:  "✅",
		Warning:  "⚠️",
		Error:    "❌",
		Progress: "🔄",
	}
	for sev, want := range cases {
		if got := sev.Prefix(); got != want {
			t.Fatalf("%s: expected %q got %q", sev, want, got)
		}
	}
}
