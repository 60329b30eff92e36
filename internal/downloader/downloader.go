package downloader

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidDescriptor = errors.New("invalid download descriptor")
	ErrDuplicate         = errors.New("download already queued")
	ErrClosed            = errors.New("download manager stopped")
	// ErrPermanent marks transfer errors that must not be retried.
	ErrPermanent    = errors.New("permanent transfer failure")
	ErrVerification = errors.New("downloaded file failed verification")
	ErrCancelled    = errors.New("download cancelled")
	ErrShutdown     = errors.New("download interrupted by shutdown")
	ErrStopTimeout  = errors.New("download workers did not stop in time")
)

// Permanent wraps err so the manager fails the task without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Descriptor identifies one remote file to fetch.
type Descriptor struct {
	FileID    string
	Filename  string
	ChatID    int64
	MessageID int
	// Size is the advertised size in bytes, 0 when unknown.
	Size int64
}

// ProgressFunc receives cumulative progress. total is 0 when unknown.
type ProgressFunc func(done, total int64)

// Transfer fetches a remote file into dest, reporting progress as it goes.
// Implementations must honour ctx cancellation.
type Transfer interface {
	Download(ctx context.Context, d Descriptor, dest string, progress ProgressFunc) error
}

// Sink receives the final path of every completed download.
type Sink interface {
	Submit(path string) bool
}
