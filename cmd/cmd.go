// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs, RunServer
package cmd

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/mlxserve/mlxserve/envconfig"
	"github.com/mlxserve/mlxserve/ml"
	"github.com/mlxserve/mlxserve/server"
	"github.com/mlxserve/mlxserve/version"
)

// RunServer - Startet den mlxserve-Server
func RunServer(_ *cobra.Command, _ []string) error {
	backend, err := ml.NewBackend(envconfig.Backend(), envconfig.ModelPath())
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", envconfig.Host())
	if err != nil {
		return err
	}

	err = server.Serve(ln, backend)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

// versionHandler - Zeigt die Version an
func versionHandler(_ *cobra.Command, _ []string) {
	fmt.Printf("mlxserve version is %s\n", version.Version)
}

// newServeCmd - Erstellt den serve Command
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start mlxserve",
		Args:    cobra.ExactArgs(0),
		RunE:    RunServer,
	}
}

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-26s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "mlxserve",
		Short:         "Prefix-cache aware model server",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
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

	serveCmd := newServeCmd()

	envVars := envconfig.AsMap()
	appendEnvDocs(serveCmd, []envconfig.EnvVar{
		envVars["MLXSERVE_DEBUG"],
		envVars["MLXSERVE_HOST"],
		envVars["MLXSERVE_MODEL"],
		envVars["MLXSERVE_BACKEND"],
		envVars["MLXSERVE_CONTEXT_LENGTH"],
		envVars["MLXSERVE_MAX_TOKENS"],
		envVars["MLXSERVE_MAX_CACHES"],
		envVars["MLXSERVE_MIN_PREFIX"],
		envVars["MLXSERVE_MIN_REUSE_RATIO"],
		envVars["MLXSERVE_PREFILL_BATCH"],
		envVars["MLXSERVE_NUM_PARALLEL"],
		envVars["MLXSERVE_ORIGINS"],
	})

	rootCmd.AddCommand(serveCmd)

	return rootCmd
}
