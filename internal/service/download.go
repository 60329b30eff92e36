package service

import (
	"context"

	"github.com/tinoosan/mediamgr/internal/data"
	"github.com/tinoosan/mediamgr/internal/downloader"
	"github.com/tinoosan/mediamgr/internal/repo"
)

// Download is the read and control surface the HTTP API exposes.
type Download interface {
	List(ctx context.Context) (downloader.Summary, error)
	Get(ctx context.Context, id string) (*data.Task, error)
	UpdateDesiredStatus(ctx context.Context, id string, status data.DesiredStatus) (*data.Task, error)
	History(ctx context.Context, limit int) (data.Records, error)
	HistoryRecord(ctx context.Context, id string) (*data.Record, error)
	Stats(ctx context.Context) (data.Stats, error)
}

var (
	AllowedStatuses = map[data.DesiredStatus]bool{
		data.DesiredCancelled: true,
	}
)

// Queue is the part of the download manager the service needs.
type Queue interface {
	Status() downloader.Summary
	Get(id string) (*data.Task, error)
	Cancel(id string) error
}

type download struct {
	queue Queue
	repo  repo.HistoryReader
}

func NewDownload(queue Queue, repo repo.HistoryReader) Download {
	return &download{
		queue: queue,
		repo:  repo,
	}
}

func (ds *download) List(ctx context.Context) (downloader.Summary, error) {
	return ds.queue.Status(), nil
}

func (ds *download) Get(ctx context.Context, id string) (*data.Task, error) {
	return ds.queue.Get(id)
}

// UpdateDesiredStatus requests the change and returns the task as it was
// when the request was accepted. Cancellation completes asynchronously.
func (ds *download) UpdateDesiredStatus(ctx context.Context, id string, status data.DesiredStatus) (*data.Task, error) {
	if !AllowedStatuses[status] {
		return nil, data.ErrBadStatus
	}
	snap, err := ds.queue.Get(id)
	if err != nil {
		return nil, err
	}
	if err := ds.queue.Cancel(id); err != nil {
		return nil, err
	}
	return snap, nil
}

func (ds *download) History(ctx context.Context, limit int) (data.Records, error) {
	return ds.repo.List(ctx, limit)
}

func (ds *download) HistoryRecord(ctx context.Context, id string) (*data.Record, error) {
	return ds.repo.Get(ctx, id)
}

func (ds *download) Stats(ctx context.Context) (data.Stats, error) {
	return ds.repo.Stats(ctx)
}
