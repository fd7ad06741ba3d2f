// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/moshigo/moshi/envconfig"
	"github.com/moshigo/moshi/logutil"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "moshi",
		Short:         "Streaming speech to text",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
		},
		Run: func(cmd *cobra.Command, args []string) {
			if version, _ := cmd.Flags().GetBool("version"); version {
				versionHandler(cmd, args)
				return
			}

			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	transcribeCmd := newTranscribeCmd()
	serveCmd := newServeCmd()
	showCmd := newShowCmd()
	envCmd := newEnvCmd()

	envVars := envconfig.AsMap()
	appendEnvDocs(transcribeCmd, []envconfig.EnvVar{
		envVars["MOSHI_DEBUG"],
		envVars["MOSHI_HOST"],
		envVars["MOSHI_MODELS"],
		envVars["MOSHI_LM_CONFIG"],
		envVars["MOSHI_NUM_CODEBOOKS"],
		envVars["MOSHI_NUM_THREADS"],
		envVars["MOSHI_TEMPERATURE"],
		envVars["MOSHI_MAX_STEPS"],
	})
	appendEnvDocs(serveCmd, []envconfig.EnvVar{
		envVars["MOSHI_DEBUG"],
		envVars["MOSHI_HOST"],
		envVars["MOSHI_MODELS"],
		envVars["MOSHI_LM_CONFIG"],
		envVars["MOSHI_NUM_CODEBOOKS"],
		envVars["MOSHI_NUM_THREADS"],
		envVars["MOSHI_TEMPERATURE"],
		envVars["MOSHI_MAX_STEPS"],
		envVars["MOSHI_QUEUE_WARN"],
		envVars["MOSHI_ORIGINS"],
	})
	appendEnvDocs(showCmd, []envconfig.EnvVar{envVars["MOSHI_HOST"], envVars["MOSHI_LM_CONFIG"]})

	rootCmd.AddCommand(
		transcribeCmd,
		serveCmd,
		showCmd,
		envCmd,
	)

	return rootCmd
}
