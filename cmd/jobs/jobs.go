// Package jobs implements the read-only job query commands. Each command
// answers on the stdout event stream with a single result or error line,
// the same envelope run-job uses.
package jobs

import (
	"github.com/spf13/cobra"

	"github.com/Jegerchristiank/transkriptor/internal/conf"
	"github.com/Jegerchristiank/transkriptor/internal/datastore"
	"github.com/Jegerchristiank/transkriptor/internal/events"
	"github.com/Jegerchristiank/transkriptor/internal/worker"
)

// listReadyLimit caps list-ready output; the store clamps it further.
const listReadyLimit = 200

// JobSummary is the wire shape of one job row in query output.
type JobSummary struct {
	JobID            string  `json:"jobId"`
	SourcePath       string  `json:"sourcePath"`
	SourceName       string  `json:"sourceName"`
	Status           string  `json:"status,omitempty"`
	UpdatedAt        string  `json:"updatedAt"`
	DurationSec      float64 `json:"durationSec"`
	ChunksDone       int     `json:"chunksDone,omitempty"`
	ChunksTotal      int     `json:"chunksTotal,omitempty"`
	InterviewerCount int     `json:"interviewerCount"`
	ParticipantCount int     `json:"participantCount"`
	ErrorMessage     string  `json:"errorMessage,omitempty"`
}

func summarize(job *datastore.Job, withProgress bool) JobSummary {
	s := JobSummary{
		JobID:            job.ID,
		SourcePath:       job.SourcePath,
		SourceName:       job.SourceName,
		UpdatedAt:        job.UpdatedAt,
		DurationSec:      job.DurationSec,
		InterviewerCount: job.InterviewerCount,
		ParticipantCount: job.ParticipantCount,
	}
	if withProgress {
		s.Status = job.Status
		s.ChunksDone = job.ChunksDone
		s.ChunksTotal = job.ChunksTotal
		s.ErrorMessage = job.ErrorMessage
	}
	return s
}

// FindResumableCommand creates the find-resumable command. It emits the
// most recently updated incomplete job as a result event, or a null result
// when none exists.
func FindResumableCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "find-resumable",
		Short: "Print the most recent resumable job, or null",
		RunE: func(*cobra.Command, []string) error {
			return runFindResumable(settings, events.NewStdout())
		},
	}
}

func runFindResumable(settings *conf.Settings, emitter *events.Emitter) error {
	return runQuery(settings, emitter, func(store datastore.Interface) (any, error) {
		job, err := store.LatestIncompleteJob()
		if err != nil {
			return nil, err
		}
		if job == nil {
			return nil, nil
		}
		return summarize(job, true), nil
	})
}

// ListReadyCommand creates the list-ready command.
func ListReadyCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "list-ready",
		Short: "List finished jobs, most recently updated first",
		RunE: func(*cobra.Command, []string) error {
			return runListReady(settings, events.NewStdout())
		},
	}
}

func runListReady(settings *conf.Settings, emitter *events.Emitter) error {
	return runQuery(settings, emitter, func(store datastore.Interface) (any, error) {
		ready, err := store.ListReadyJobs(listReadyLimit)
		if err != nil {
			return nil, err
		}
		summaries := make([]JobSummary, 0, len(ready))
		for i := range ready {
			summaries = append(summaries, summarize(&ready[i], false))
		}
		return summaries, nil
	})
}

// ResultCommand creates the job-result command. A job without a result
// yields a null result, not an error.
func ResultCommand(settings *conf.Settings) *cobra.Command {
	var jobID string

	cmd := &cobra.Command{
		Use:   "job-result",
		Short: "Print the final transcript result of a job",
		RunE: func(*cobra.Command, []string) error {
			return runJobResult(settings, events.NewStdout(), jobID)
		},
	}

	cmd.Flags().StringVar(&jobID, "job-id", "", "Job id")
	_ = cmd.MarkFlagRequired("job-id")
	return cmd
}

func runJobResult(settings *conf.Settings, emitter *events.Emitter, jobID string) error {
	return runQuery(settings, emitter, func(store datastore.Interface) (any, error) {
		result, err := store.ReadJobResult(jobID)
		if err != nil {
			return nil, err
		}
		if result == nil {
			return nil, nil
		}
		return result, nil
	})
}

// runQuery opens the job database for one command, emits fn's payload as a
// result event and reports any failure as an error event plus exit code 1.
func runQuery(settings *conf.Settings, emitter *events.Emitter, fn func(datastore.Interface) (any, error)) error {
	store := datastore.New(settings)
	if err := store.Open(); err != nil {
		emitter.Error("", "Kunne ikke åbne jobdatabasen")
		return &worker.ExitCodeError{Code: worker.ExitFailed}
	}
	defer store.Close()

	payload, err := fn(store)
	if err != nil {
		emitter.Error("", err.Error())
		return &worker.ExitCodeError{Code: worker.ExitFailed}
	}
	return emitter.Result(payload)
}
