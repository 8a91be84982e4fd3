package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/timmy/prospect/internal/domain"
	"github.com/timmy/prospect/internal/logger"
)

// ErrRecordNotFound signals that no archived job exists for the id.
var ErrRecordNotFound = errors.New("repository: record not found")

// JobRecord is the archived form of a terminal research job.
type JobRecord struct {
	ID        uint   `gorm:"primaryKey"`
	JobID     string `gorm:"uniqueIndex;size:64;not null"`
	Company   string `gorm:"index;size:255"`
	Industry  string `gorm:"size:255"`
	Status    string `gorm:"size:16;index"`
	Reason    string `gorm:"type:text"`
	Report    string `gorm:"type:text"`
	Links     string `gorm:"type:text"`
	Advantage float64
	Strength  float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName keeps the table name stable across gorm versions.
func (JobRecord) TableName() string {
	return "job_archive"
}

// JobArchive persists terminal jobs.
type JobArchive struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewJobArchive wraps an open database.
func NewJobArchive(db *gorm.DB, log *logger.Logger) *JobArchive {
	if log == nil {
		log = logger.GetDefault()
	}
	return &JobArchive{
		db:  db,
		log: log.WithField(logger.FieldComponent, "job-archive"),
	}
}

// ArchiveJob upserts one terminal job by its identifier. Non-terminal
// jobs are skipped: the archive only holds finished history.
func (a *JobArchive) ArchiveJob(ctx context.Context, job domain.Job) error {
	if !job.Status.Terminal() {
		return nil
	}

	rec := JobRecord{
		JobID:    job.ID,
		Company:  job.Input.Company,
		Industry: job.Input.Industry,
		Status:   string(job.Status),
		Reason:   job.FailureReason,
	}
	if job.Result != nil {
		rec.Report = job.Result.Report
		rec.Links = strings.Join(job.Result.References, "\n")
		rec.Advantage = job.Result.AdvantageScore
		rec.Strength = job.Result.EntanglementStrength
	}

	err := a.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "job_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "reason", "report", "links", "advantage", "strength", "updated_at",
			}),
		}).
		Create(&rec).Error
	if err != nil {
		return err
	}
	a.log.WithFields(logger.Fields{
		logger.FieldJobID:  job.ID,
		logger.FieldStatus: string(job.Status),
	}).Debug("Job archived")
	return nil
}

// Get returns one archived job by its job identifier.
func (a *JobArchive) Get(ctx context.Context, jobID string) (*JobRecord, error) {
	var rec JobRecord
	err := a.db.WithContext(ctx).Where("job_id = ?", jobID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRecent returns the most recently archived jobs, newest first.
func (a *JobArchive) ListRecent(ctx context.Context, limit int) ([]JobRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var recs []JobRecord
	err := a.db.WithContext(ctx).
		Order("updated_at DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// References splits the stored link list back into a slice.
func (r *JobRecord) References() []string {
	if r.Links == "" {
		return nil
	}
	return strings.Split(r.Links, "\n")
}
