package repository

import (
	"context"
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/timmy/prospect/internal/domain"
)

func newTestArchive(t *testing.T) *JobArchive {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&JobRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewJobArchive(db, nil)
}

func TestArchiveJobRoundTrip(t *testing.T) {
	arch := newTestArchive(t)
	job := domain.Job{
		ID:     "job-1",
		Status: domain.StatusCompleted,
		Input:  domain.JobInput{Company: "Acme", Industry: "Robotics"},
		Result: &domain.ResearchResult{
			Company:              "Acme",
			Report:               "# Acme report",
			References:           []string{"https://a.example", "https://b.example"},
			AdvantageScore:       0.7,
			EntanglementStrength: 0.4,
		},
	}
	if err := arch.ArchiveJob(context.Background(), job); err != nil {
		t.Fatalf("ArchiveJob failed: %v", err)
	}

	rec, err := arch.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Company != "Acme" || rec.Status != "completed" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Report != "# Acme report" {
		t.Errorf("report = %q", rec.Report)
	}
	if refs := rec.References(); len(refs) != 2 || refs[1] != "https://b.example" {
		t.Errorf("references = %v", refs)
	}
	if rec.Advantage != 0.7 || rec.Strength != 0.4 {
		t.Errorf("scores = %v/%v", rec.Advantage, rec.Strength)
	}
}

func TestArchiveJobUpsertsByJobID(t *testing.T) {
	arch := newTestArchive(t)
	job := domain.Job{
		ID:            "job-1",
		Status:        domain.StatusFailed,
		Input:         domain.JobInput{Company: "Acme"},
		FailureReason: "first failure",
	}
	if err := arch.ArchiveJob(context.Background(), job); err != nil {
		t.Fatalf("first archive: %v", err)
	}
	job.FailureReason = "second failure"
	if err := arch.ArchiveJob(context.Background(), job); err != nil {
		t.Fatalf("second archive: %v", err)
	}

	recs, err := arch.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRecent failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1 after upsert", len(recs))
	}
	if recs[0].Reason != "second failure" {
		t.Errorf("reason = %q, want the updated one", recs[0].Reason)
	}
}

func TestArchiveSkipsRunningJobs(t *testing.T) {
	arch := newTestArchive(t)
	job := domain.Job{ID: "job-1", Status: domain.StatusRunning}
	if err := arch.ArchiveJob(context.Background(), job); err != nil {
		t.Fatalf("ArchiveJob errored on running job: %v", err)
	}
	if _, err := arch.Get(context.Background(), "job-1"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("got %v, want ErrRecordNotFound", err)
	}
}
