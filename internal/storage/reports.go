package storage

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/timmy/prospect/internal/domain"
	"github.com/timmy/prospect/internal/logger"
)

// ErrReportNotFound signals that no archived report exists for the job.
var ErrReportNotFound = errors.New("storage: report not found")

// ReportArchive stores final report markdown in object storage, one
// object per job.
type ReportArchive struct {
	store ObjectStorage
	log   *logger.Logger
}

// NewReportArchive wraps an object store.
func NewReportArchive(store ObjectStorage, log *logger.Logger) *ReportArchive {
	if log == nil {
		log = logger.GetDefault()
	}
	return &ReportArchive{
		store: store,
		log:   log.WithField(logger.FieldComponent, "report-archive"),
	}
}

func reportKey(jobID string) string {
	return "reports/" + jobID + ".md"
}

// ArchiveJob uploads the report of a completed job. Failed jobs and
// jobs without a report are skipped silently.
func (a *ReportArchive) ArchiveJob(ctx context.Context, job domain.Job) error {
	if job.Status != domain.StatusCompleted || job.Result == nil || job.Result.Report == "" {
		return nil
	}
	report := job.Result.Report
	err := a.store.Put(ctx, reportKey(job.ID),
		strings.NewReader(report), int64(len(report)), "text/markdown")
	if err != nil {
		return err
	}
	a.log.WithFields(logger.Fields{
		logger.FieldJobID: job.ID,
		logger.FieldSize:  len(report),
	}).Info("Report archived")
	return nil
}

// FetchReport returns the archived report markdown for a job.
func (a *ReportArchive) FetchReport(ctx context.Context, jobID string) (string, error) {
	ok, err := a.store.Exists(ctx, reportKey(jobID))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrReportNotFound
	}

	body, err := a.store.Get(ctx, reportKey(jobID))
	if err != nil {
		return "", err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ReportURL returns the public URL of an archived report, or "".
func (a *ReportArchive) ReportURL(jobID string) string {
	return a.store.URL(reportKey(jobID))
}
