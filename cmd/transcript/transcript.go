// Package transcript implements the commands that modify a finished job's
// transcript: role swapping and applying user edits. Results and domain
// errors go on the stdout event stream in the same envelope run-job uses.
package transcript

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Jegerchristiank/transkriptor/internal/conf"
	"github.com/Jegerchristiank/transkriptor/internal/datastore"
	"github.com/Jegerchristiank/transkriptor/internal/editor"
	"github.com/Jegerchristiank/transkriptor/internal/errors"
	"github.com/Jegerchristiank/transkriptor/internal/events"
	"github.com/Jegerchristiank/transkriptor/internal/worker"
)

// SwapRolesCommand creates the swap-roles command. Swapping flips every
// "I" and "D" label and emits the updated result.
func SwapRolesCommand(settings *conf.Settings) *cobra.Command {
	var jobID string

	cmd := &cobra.Command{
		Use:   "swap-roles",
		Short: "Swap interviewer and participant labels on a transcript",
		RunE: func(*cobra.Command, []string) error {
			return runSwapRoles(settings, events.NewStdout(), jobID)
		},
	}

	cmd.Flags().StringVar(&jobID, "job-id", "", "Job id")
	_ = cmd.MarkFlagRequired("job-id")
	return cmd
}

func runSwapRoles(settings *conf.Settings, emitter *events.Emitter, jobID string) error {
	return withStore(settings, emitter, func(store datastore.Interface) error {
		if err := store.SwapRoles(jobID); err != nil {
			if errors.IsCategory(err, errors.CategoryNotFound) {
				return emitError(emitter, "Job findes ikke")
			}
			return emitError(emitter, err.Error())
		}
		return emitResult(store, emitter, jobID, "Kunne ikke indlæse opdateret resultat")
	})
}

// UpdateCommand creates the update-transcript command: it parses a
// user-edited I:/D: text file and replaces the stored transcript.
func UpdateCommand(settings *conf.Settings) *cobra.Command {
	var jobID, input string

	cmd := &cobra.Command{
		Use:   "update-transcript",
		Short: "Replace a job's transcript with an edited I:/D: text file",
		RunE: func(*cobra.Command, []string) error {
			return runUpdate(settings, events.NewStdout(), jobID, input)
		},
	}

	cmd.Flags().StringVar(&jobID, "job-id", "", "Job id")
	cmd.Flags().StringVar(&input, "input", "", "Path to the edited transcript text file")
	_ = cmd.MarkFlagRequired("job-id")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runUpdate(settings *conf.Settings, emitter *events.Emitter, jobID, input string) error {
	data, err := os.ReadFile(input)
	if err != nil {
		if os.IsNotExist(err) {
			return emitError(emitter, fmt.Sprintf("Redigeret fil blev ikke fundet: %s", input))
		}
		return emitError(emitter, fmt.Sprintf("Kunne ikke læse redigeret transcript: %v", err))
	}

	return withStore(settings, emitter, func(store datastore.Interface) error {
		// The previous transcript donates per-line confidences to the
		// edited lines.
		fallback, err := store.GetTranscript(jobID)
		if err != nil {
			if errors.IsCategory(err, errors.CategoryNotFound) {
				return emitError(emitter, "Job findes ikke")
			}
			return emitError(emitter, err.Error())
		}

		edited, err := editor.ParseEditorText(string(data), fallback)
		if err != nil {
			return emitError(emitter, err.Error())
		}
		if err := store.SetFinalTranscript(jobID, edited); err != nil {
			return emitError(emitter, err.Error())
		}
		return emitResult(store, emitter, jobID, "Kunne ikke indlæse opdateret resultat")
	})
}

func emitResult(store datastore.Interface, emitter *events.Emitter, jobID, missingMsg string) error {
	result, err := store.ReadJobResult(jobID)
	if err != nil {
		return emitError(emitter, err.Error())
	}
	if result == nil {
		return emitError(emitter, missingMsg)
	}
	return emitter.Result(result)
}

// emitError reports a failure as an error event and maps it to exit code 1.
func emitError(emitter *events.Emitter, message string) error {
	emitter.Error("", message)
	return &worker.ExitCodeError{Code: worker.ExitFailed}
}

func withStore(settings *conf.Settings, emitter *events.Emitter, fn func(datastore.Interface) error) error {
	store := datastore.New(settings)
	if err := store.Open(); err != nil {
		return emitError(emitter, "Kunne ikke åbne jobdatabasen")
	}
	defer store.Close()
	return fn(store)
}
