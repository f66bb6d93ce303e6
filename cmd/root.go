// Package cmd assembles the transkriptor command tree.
package cmd

import (
	"github.com/spf13/cobra"

	exportcmd "github.com/Jegerchristiank/transkriptor/cmd/export"
	"github.com/Jegerchristiank/transkriptor/cmd/jobs"
	"github.com/Jegerchristiank/transkriptor/cmd/runjob"
	"github.com/Jegerchristiank/transkriptor/cmd/transcript"
	"github.com/Jegerchristiank/transkriptor/internal/conf"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "transkriptor",
		Short: "Interview transcription worker",
		// Every command reports failures on the stdout event stream; cobra's
		// usage and error dumps would corrupt the JSON protocol.
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", settings.Debug, "Enable debug output")

	rootCmd.AddCommand(
		runjob.Command(settings),
		jobs.FindResumableCommand(settings),
		jobs.ListReadyCommand(settings),
		jobs.ResultCommand(settings),
		transcript.SwapRolesCommand(settings),
		transcript.UpdateCommand(settings),
		exportcmd.TxtCommand(settings),
		exportcmd.DocxCommand(settings),
	)

	return rootCmd
}
