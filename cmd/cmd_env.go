// cmd_env.go - Ausgabe der Umgebungsvariablen
package cmd

import (
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/moshigo/moshi/envconfig"
)

func EnvHandler(cmd *cobra.Command, _ []string) error {
	vars := envconfig.AsMap()

	var data [][]string
	for _, k := range slices.Sorted(maps.Keys(vars)) {
		v := vars[k]
		data = append(data, []string{v.Name, fmt.Sprintf("%v", v.Value), v.Description})
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"NAME", "VALUE", "DESCRIPTION"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	return nil
}

func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Show environment variables and their current values",
		Args:  cobra.ExactArgs(0),
		RunE:  EnvHandler,
	}
}
