package repo

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/tinoosan/mediamgr/internal/data"
)

type InMemoryHistoryRepo struct {
	mu   sync.RWMutex
	byFP map[string]*data.Record
	byID map[string]*data.Record
}

func NewInMemoryHistoryRepo() *InMemoryHistoryRepo {
	return &InMemoryHistoryRepo{
		byFP: make(map[string]*data.Record),
		byID: make(map[string]*data.Record),
	}
}

func (r *InMemoryHistoryRepo) Record(_ context.Context, rec *data.Record) (*data.Record, error) {
	c, err := prepare(rec)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byFP[c.Fingerprint]; ok {
		c.ID = old.ID
	} else if c.ID == "" {
		c.ID = uuid.NewString()
	}
	r.byFP[c.Fingerprint] = c
	r.byID[c.ID] = c
	return c.Clone(), nil
}

func (r *InMemoryHistoryRepo) List(_ context.Context, limit int) (data.Records, error) {
	r.mu.RLock()
	out := make(data.Records, 0, len(r.byID))
	for _, rec := range r.byID {
		out = append(out, rec.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].FinishedAt.After(out[j].FinishedAt) })
	if n := clampLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (r *InMemoryHistoryRepo) Get(_ context.Context, id string) (*data.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	return rec.Clone(), nil
}

func (r *InMemoryHistoryRepo) Stats(context.Context) (data.Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var s data.Stats
	for _, rec := range r.byID {
		s.Total++
		switch rec.Status {
		case data.StatusCompleted:
			s.Succeeded++
		case data.StatusError:
			s.Failed++
		}
		s.Bytes += rec.Bytes
	}
	return s, nil
}

func (r *InMemoryHistoryRepo) Close() error { return nil }
