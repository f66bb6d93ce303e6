// interfaces.go defines the storage contract the rest of the worker
// programs against, plus the GORM-backed implementation shared by backends.
package datastore

import (
	"os"
	"path/filepath"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Jegerchristiank/transkriptor/internal/errors"
)

// Interface abstracts the underlying database implementation.
type Interface interface {
	Open() error
	Close() error

	CreateJob(job *Job) error
	GetJob(id string) (*Job, error)
	LatestIncompleteJob() (*Job, error)
	ListReadyJobs(limit int) ([]Job, error)
	UpdateJobStatus(id, status string, opts ...JobUpdate) error
	UpdateJobMetadata(id string, durationSec float64, chunksTotal int) error
	SetFinalTranscript(id string, transcript []Utterance) error
	GetTranscript(id string) ([]Utterance, error)
	SwapRoles(id string) error
	ReadJobResult(id string) (*JobResult, error)

	UpsertChunk(chunk *Chunk) error
	ListChunks(jobID string) ([]Chunk, error)

	DeleteReadyJobDirs(root string) ([]string, error)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB
}

// JobUpdate sets an optional column on an UpdateJobStatus call.
type JobUpdate func(updates map[string]any)

// WithChunksDone also updates chunks_done.
func WithChunksDone(n int) JobUpdate {
	return func(updates map[string]any) { updates["chunks_done"] = n }
}

// WithChunksTotal also updates chunks_total.
func WithChunksTotal(n int) JobUpdate {
	return func(updates map[string]any) { updates["chunks_total"] = n }
}

// WithErrorMessage also updates error_message. Pass the empty string to
// clear a previous error.
func WithErrorMessage(msg string) JobUpdate {
	return func(updates map[string]any) { updates["error_message"] = msg }
}

// CreateJob inserts a new job row. Missing status and speaker counts get
// their defaults; timestamps are filled when empty.
func (ds *DataStore) CreateJob(job *Job) error {
	if job.ID == "" {
		return errors.Newf("job id must not be empty").
			Component("datastore").
			Category(errors.CategoryValidation).
			Build()
	}
	if job.Status == "" {
		job.Status = JobQueued
	}
	if job.InterviewerCount < 1 {
		job.InterviewerCount = 1
	}
	if job.ParticipantCount < 1 {
		job.ParticipantCount = 1
	}
	now := nowISO()
	if job.CreatedAt == "" {
		job.CreatedAt = now
	}
	if job.UpdatedAt == "" {
		job.UpdatedAt = now
	}
	if err := ds.DB.Create(job).Error; err != nil {
		return storeError(err, "creating job")
	}
	return nil
}

// GetJob retrieves a job by id.
func (ds *DataStore) GetJob(id string) (*Job, error) {
	var job Job
	if err := ds.DB.First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Newf("job %s not found", id).
				Component("datastore").
				Category(errors.CategoryNotFound).
				Build()
		}
		return nil, storeError(err, "getting job")
	}
	return &job, nil
}

// LatestIncompleteJob returns the most recently updated job that can be
// resumed, or nil when no such job exists.
func (ds *DataStore) LatestIncompleteJob() (*Job, error) {
	var job Job
	err := ds.DB.
		Where("status IN ?", incompleteJobStatuses).
		Order("updated_at DESC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError(err, "finding resumable job")
	}
	return &job, nil
}

// ListReadyJobs returns up to limit ready jobs, most recently updated first.
// The limit is clamped to [1, 500].
func (ds *DataStore) ListReadyJobs(limit int) ([]Job, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 500 {
		limit = 500
	}
	var jobs []Job
	err := ds.DB.
		Where("status = ?", JobReady).
		Order("updated_at DESC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, storeError(err, "listing ready jobs")
	}
	return jobs, nil
}

// UpdateJobStatus sets the job status and any optional columns in one commit.
func (ds *DataStore) UpdateJobStatus(id, status string, opts ...JobUpdate) error {
	updates := map[string]any{
		"status":     status,
		"updated_at": nowISO(),
	}
	for _, opt := range opts {
		opt(updates)
	}
	result := ds.DB.Model(&Job{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return storeError(result.Error, "updating job status")
	}
	if result.RowsAffected == 0 {
		return errors.Newf("job %s not found", id).
			Component("datastore").
			Category(errors.CategoryNotFound).
			Build()
	}
	return nil
}

// UpdateJobMetadata records the probed duration and planned chunk count.
func (ds *DataStore) UpdateJobMetadata(id string, durationSec float64, chunksTotal int) error {
	result := ds.DB.Model(&Job{}).Where("id = ?", id).Updates(map[string]any{
		"duration_sec": durationSec,
		"chunks_total": chunksTotal,
		"updated_at":   nowISO(),
	})
	if result.Error != nil {
		return storeError(result.Error, "updating job metadata")
	}
	if result.RowsAffected == 0 {
		return errors.Newf("job %s not found", id).
			Component("datastore").
			Category(errors.CategoryNotFound).
			Build()
	}
	return nil
}

// SetFinalTranscript stores the labeled transcript, marks the job ready and
// clears any previous error message.
func (ds *DataStore) SetFinalTranscript(id string, transcript []Utterance) error {
	payload, err := MarshalTranscript(transcript)
	if err != nil {
		return storeError(err, "encoding final transcript")
	}
	result := ds.DB.Model(&Job{}).Where("id = ?", id).Updates(map[string]any{
		"transcript_json": payload,
		"status":          JobReady,
		"error_message":   "",
		"updated_at":      nowISO(),
	})
	if result.Error != nil {
		return storeError(result.Error, "storing final transcript")
	}
	if result.RowsAffected == 0 {
		return errors.Newf("job %s not found", id).
			Component("datastore").
			Category(errors.CategoryNotFound).
			Build()
	}
	return nil
}

// GetTranscript returns the job's final transcript.
func (ds *DataStore) GetTranscript(id string) ([]Utterance, error) {
	job, err := ds.GetJob(id)
	if err != nil {
		return nil, err
	}
	return job.Transcript()
}

// SwapRoles flips every "I" and "D" speaker label on the stored transcript.
// Raw speaker ids are left untouched; the job stays ready and any stale
// error message is cleared along the way.
func (ds *DataStore) SwapRoles(id string) error {
	transcript, err := ds.GetTranscript(id)
	if err != nil {
		return err
	}
	if len(transcript) == 0 {
		return errors.Newf("job %s has no transcript", id).
			Component("datastore").
			Category(errors.CategoryState).
			Build()
	}
	for i := range transcript {
		switch transcript[i].Speaker {
		case "I":
			transcript[i].Speaker = "D"
		case "D":
			transcript[i].Speaker = "I"
		}
	}
	return ds.SetFinalTranscript(id, transcript)
}

// ReadJobResult assembles the result payload for a job from its row. A
// missing job yields (nil, nil) so callers can report it their own way.
func (ds *DataStore) ReadJobResult(id string) (*JobResult, error) {
	job, err := ds.GetJob(id)
	if err != nil {
		if errors.IsCategory(err, errors.CategoryNotFound) {
			return nil, nil
		}
		return nil, err
	}
	transcript, err := job.Transcript()
	if err != nil {
		return nil, storeError(err, "decoding job transcript")
	}
	if transcript == nil {
		transcript = []Utterance{}
	}
	return &JobResult{
		JobID:       job.ID,
		SourcePath:  job.SourcePath,
		DurationSec: job.DurationSec,
		Transcript:  transcript,
	}, nil
}

// UpsertChunk inserts the chunk or replaces the existing row with the same
// (job_id, idx) key.
func (ds *DataStore) UpsertChunk(chunk *Chunk) error {
	chunk.UpdatedAt = nowISO()
	err := ds.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}, {Name: "idx"}},
		UpdateAll: true,
	}).Create(chunk).Error
	if err != nil {
		return storeError(err, "upserting chunk")
	}
	return nil
}

// ListChunks returns the job's chunks ordered by idx.
func (ds *DataStore) ListChunks(jobID string) ([]Chunk, error) {
	var chunks []Chunk
	err := ds.DB.
		Where("job_id = ?", jobID).
		Order("idx ASC").
		Find(&chunks).Error
	if err != nil {
		return nil, storeError(err, "listing chunks")
	}
	return chunks, nil
}

// DeleteReadyJobDirs removes the on-disk directory of every ready job under
// root and returns the ids whose directories were deleted. Database rows are
// preserved.
func (ds *DataStore) DeleteReadyJobDirs(root string) ([]string, error) {
	var jobs []Job
	if err := ds.DB.Where("status = ?", JobReady).Find(&jobs).Error; err != nil {
		return nil, storeError(err, "listing ready jobs for cleanup")
	}
	var deleted []string
	for i := range jobs {
		dir := filepath.Join(root, jobs[i].ID)
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return deleted, errors.New(err).
				Component("datastore").
				Category(errors.CategoryFileIO).
				Context("operation", "delete_ready_job_dirs").
				Build()
		}
		deleted = append(deleted, jobs[i].ID)
	}
	return deleted, nil
}

// storeError wraps a database failure with component context.
func storeError(err error, operation string) error {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Build()
}
