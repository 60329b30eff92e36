package notify

import "fmt"

// Severity classifies a notification. The set is closed; the emoji prefix is
// applied only when the message leaves the process.
type Severity int

const (
	Info Severity = iota
	Success
	Warning
	Error
	Progress
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Success:
		return "success"
	case Warning:
		return "warning"
	case Error:
		return "error"
	case Progress:
		return "progress"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Prefix returns the emoji shown in front of a message of this severity.
func (s Severity) Prefix() string {
	switch s {
	case Success:
		return "✅"
	case Warning:
		return "⚠️"
	case Error:
		return "❌"
	case Progress:
		return "🔄"
	default:
		return "ℹ️"
	}
}

// Format renders text for the wire.
func (s Severity) Format(text string) string {
	return s.Prefix() + " " + text
}
