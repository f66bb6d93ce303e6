// Package export implements the export-txt and export-docx commands. Both
// emit the path of the written file as a result event on stdout.
package export

import (
	"github.com/spf13/cobra"

	"github.com/Jegerchristiank/transkriptor/internal/conf"
	"github.com/Jegerchristiank/transkriptor/internal/datastore"
	"github.com/Jegerchristiank/transkriptor/internal/errors"
	"github.com/Jegerchristiank/transkriptor/internal/events"
	"github.com/Jegerchristiank/transkriptor/internal/export"
	"github.com/Jegerchristiank/transkriptor/internal/worker"
)

type exportFunc func(job *datastore.Job, transcript []datastore.Utterance, outputPath string) (string, error)

// TxtCommand creates the export-txt command.
func TxtCommand(settings *conf.Settings) *cobra.Command {
	return exportCommand(settings, "export-txt",
		"Export a transcript as interview-formatted plain text", export.ExportTXT)
}

// DocxCommand creates the export-docx command.
func DocxCommand(settings *conf.Settings) *cobra.Command {
	return exportCommand(settings, "export-docx",
		"Export a transcript as a Word document", export.ExportDOCX)
}

func exportCommand(settings *conf.Settings, use, short string, render exportFunc) *cobra.Command {
	var jobID, output string

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(*cobra.Command, []string) error {
			return runExport(settings, events.NewStdout(), render, jobID, output)
		},
	}

	cmd.Flags().StringVar(&jobID, "job-id", "", "Job id")
	cmd.Flags().StringVar(&output, "output", "", "Output file path")
	_ = cmd.MarkFlagRequired("job-id")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func runExport(settings *conf.Settings, emitter *events.Emitter, render exportFunc, jobID, output string) error {
	store := datastore.New(settings)
	if err := store.Open(); err != nil {
		return emitError(emitter, "Kunne ikke åbne jobdatabasen")
	}
	defer store.Close()

	job, err := store.GetJob(jobID)
	if err != nil {
		if errors.IsCategory(err, errors.CategoryNotFound) {
			return emitError(emitter, "Job findes ikke")
		}
		return emitError(emitter, err.Error())
	}
	transcript, err := job.Transcript()
	if err != nil {
		return emitError(emitter, err.Error())
	}

	path, err := render(job, transcript, output)
	if err != nil {
		return emitError(emitter, err.Error())
	}
	return emitter.Result(map[string]string{"filePath": path})
}

func emitError(emitter *events.Emitter, message string) error {
	emitter.Error("", message)
	return &worker.ExitCodeError{Code: worker.ExitFailed}
}
