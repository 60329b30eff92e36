package downloader

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tinoosan/mediamgr/internal/data"
)

// HumanSize renders n bytes with a binary unit.
func HumanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit && exp < 4; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTP"[exp])
}

// HumanDuration renders d as "1h 2m 3s", dropping leading zero units.
func HumanDuration(d time.Duration) string {
	if d < 0 {
		return "unknown"
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

func sizeOrUnknown(n int64) string {
	if n <= 0 {
		return "unknown size"
	}
	return HumanSize(n)
}

func queuedText(t *data.Task, position int) string {
	return fmt.Sprintf("Queued: %s\nSize: %s\nPosition in queue: %d", t.Filename, sizeOrUnknown(t.TotalSize), position)
}

func progressText(t *data.Task, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Downloading: %s\n", t.Filename)
	if t.TotalSize > 0 {
		fmt.Fprintf(&b, "Progress: %.1f%% (%s / %s)\n", t.Percent(), HumanSize(t.BytesDone), HumanSize(t.TotalSize))
	} else {
		fmt.Fprintf(&b, "Progress: %s\n", HumanSize(t.BytesDone))
	}
	fmt.Fprintf(&b, "Speed: %s/s\n", HumanSize(int64(t.Speed)))
	fmt.Fprintf(&b, "ETA: %s\n", HumanDuration(t.ETA))
	fmt.Fprintf(&b, "Elapsed: %s", HumanDuration(t.Elapsed(now)))
	if t.Attempts > 1 {
		fmt.Fprintf(&b, "\nAttempt: %d", t.Attempts)
	}
	return b.String()
}

func completedText(t *data.Task) string {
	elapsed := t.Elapsed(t.FinishedAt)
	avg := int64(0)
	if secs := elapsed.Seconds(); secs > 0 {
		avg = int64(float64(t.BytesDone) / secs)
	}
	return fmt.Sprintf("Download complete: %s\nSize: %s\nTime: %s\nAvg speed: %s/s",
		t.Filename, HumanSize(t.BytesDone), HumanDuration(elapsed), HumanSize(avg))
}

func failedText(t *data.Task, err error) string {
	msg := fmt.Sprintf("Download failed: %s\nReason: %s\nAttempts: %d", t.Filename, t.Error, t.Attempts)
	if hint := suggestion(err); hint != "" {
		msg += "\n" + hint
	}
	return msg
}

func suggestion(err error) string {
	switch {
	case errors.Is(err, ErrVerification):
		return "The received file was incomplete. Send it again to retry."
	case errors.Is(err, ErrCancelled), errors.Is(err, ErrShutdown):
		return ""
	case errors.Is(err, ErrPermanent):
		return "The file is no longer available. Forward the original message again."
	default:
		return "Check the connection and send the file again."
	}
}
