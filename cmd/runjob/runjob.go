// Package runjob implements the run-job command, the long-running worker
// entry the desktop UI spawns per transcription.
package runjob

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Jegerchristiank/transkriptor/internal/conf"
	"github.com/Jegerchristiank/transkriptor/internal/datastore"
	"github.com/Jegerchristiank/transkriptor/internal/engine"
	"github.com/Jegerchristiank/transkriptor/internal/events"
	"github.com/Jegerchristiank/transkriptor/internal/media"
	"github.com/Jegerchristiank/transkriptor/internal/worker"
)

// Command creates the run-job command.
func Command(settings *conf.Settings) *cobra.Command {
	var opts worker.Options

	cmd := &cobra.Command{
		Use:   "run-job",
		Short: "Transcribe a recording or resume a paused job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.Resume && opts.JobID == "" {
				return fmt.Errorf("--resume kræver --job-id")
			}
			if !opts.Resume && opts.Source == "" {
				return fmt.Errorf("--source er påkrævet")
			}
			return run(cmd.Context(), settings, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Source, "source", "", "Path to the source recording")
	cmd.Flags().StringVar(&opts.JobID, "job-id", "", "Job id to create or resume")
	cmd.Flags().BoolVar(&opts.Resume, "resume", false, "Resume an existing job")
	cmd.Flags().IntVar(&opts.InterviewerCount, "interviewers", 1, "Number of interviewers in the recording")
	cmd.Flags().IntVar(&opts.ParticipantCount, "participants", 1, "Number of participants in the recording")

	return cmd
}

func run(ctx context.Context, settings *conf.Settings, opts worker.Options) error {
	emitter := events.NewStdout()

	store := datastore.New(settings)
	if err := store.Open(); err != nil {
		emitter.Error(opts.JobID, fmt.Sprintf("Kunne ikke åbne jobdatabasen: %v", err))
		return &worker.ExitCodeError{Code: worker.ExitFailed}
	}
	defer store.Close()

	fallback := engine.NewFallbackEngine(settings)
	defer fallback.Close()

	// SIGINT/SIGTERM pause the job between chunks instead of killing it.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver := worker.NewDriver(settings, store,
		media.NewPlanner(settings),
		engine.NewRemoteEngine(settings, nil),
		fallback,
		emitter)

	if code := driver.Run(ctx, opts); code != worker.ExitOK {
		return &worker.ExitCodeError{Code: code}
	}
	return nil
}
