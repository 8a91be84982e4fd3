package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/timmy/prospect/internal/domain"
)

// memStore is an in-memory ObjectStorage for tests.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (m *memStore) EnsureBucket(ctx context.Context) error { return nil }

func (m *memStore) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[key] = data
	m.mu.Unlock()
	return nil
}

func (m *memStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	data, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return nil, errors.New("no such object")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memStore) URL(key string) string { return "https://cdn.example.com/" + key }

func TestReportArchiveRoundTrip(t *testing.T) {
	store := newMemStore()
	arch := NewReportArchive(store, nil)

	job := domain.Job{
		ID:     "job-1",
		Status: domain.StatusCompleted,
		Result: &domain.ResearchResult{Company: "Acme", Report: "# Acme\nfindings"},
	}
	if err := arch.ArchiveJob(context.Background(), job); err != nil {
		t.Fatalf("ArchiveJob failed: %v", err)
	}

	got, err := arch.FetchReport(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("FetchReport failed: %v", err)
	}
	if got != job.Result.Report {
		t.Errorf("fetched report = %q, want %q", got, job.Result.Report)
	}
	if url := arch.ReportURL("job-1"); url != "https://cdn.example.com/reports/job-1.md" {
		t.Errorf("report URL = %q", url)
	}
}

func TestReportArchiveSkipsNonCompletedJobs(t *testing.T) {
	store := newMemStore()
	arch := NewReportArchive(store, nil)

	failed := domain.Job{ID: "job-2", Status: domain.StatusFailed, FailureReason: "boom"}
	if err := arch.ArchiveJob(context.Background(), failed); err != nil {
		t.Fatalf("ArchiveJob on failed job errored: %v", err)
	}
	noResult := domain.Job{ID: "job-3", Status: domain.StatusCompleted}
	if err := arch.ArchiveJob(context.Background(), noResult); err != nil {
		t.Fatalf("ArchiveJob without result errored: %v", err)
	}
	if len(store.objects) != 0 {
		t.Errorf("archive stored %d objects, want 0", len(store.objects))
	}
}

func TestFetchReportNotFound(t *testing.T) {
	arch := NewReportArchive(newMemStore(), nil)
	if _, err := arch.FetchReport(context.Background(), "missing"); !errors.Is(err, ErrReportNotFound) {
		t.Errorf("got %v, want ErrReportNotFound", err)
	}
}
