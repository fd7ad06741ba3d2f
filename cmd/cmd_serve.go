// cmd_serve.go - Server-Start und Versionsausgabe
// Hauptfunktionen: RunServer, versionHandler
package cmd

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/moshigo/moshi/api"
	"github.com/moshigo/moshi/envconfig"
	"github.com/moshigo/moshi/server"
	"github.com/moshigo/moshi/version"
)

// RunServer - Startet den moshi-Server
func RunServer(_ *cobra.Command, _ []string) error {
	ln, err := net.Listen("tcp", envconfig.Host().Host)
	if err != nil {
		return err
	}

	err = server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

func versionHandler(cmd *cobra.Command, _ []string) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return
	}

	serverVersion, err := client.Version(cmd.Context())
	if err != nil {
		fmt.Println("Warning: could not connect to a running moshi server")
	}

	if serverVersion != "" {
		fmt.Printf("moshi version is %s\n", serverVersion)
	}

	if serverVersion != version.Version {
		fmt.Printf("Warning: client version is %s\n", version.Version)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the transcription server",
		Args:    cobra.ExactArgs(0),
		RunE:    RunServer,
	}
}
