// cmd_show.go - Modell- und Vokabular-Informationen
// Hauptfunktionen: ShowHandler, showInfo, showVocab
package cmd

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/moshigo/moshi/api"
	"github.com/moshigo/moshi/asr"
	"github.com/moshigo/moshi/huggingface"
	"github.com/moshigo/moshi/model"
	"github.com/moshigo/moshi/model/lm"
	"github.com/moshigo/moshi/model/mimi"
	"github.com/moshigo/moshi/server"
)

func ShowHandler(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	if vocabPath, _ := flags.GetString("vocab"); vocabPath != "" {
		vocab, err := asr.LoadVocab(vocabPath)
		if err != nil {
			return err
		}
		showVocab(os.Stdout, vocab)
		return nil
	}

	if list, _ := flags.GetBool("list"); list {
		if err := showPresets(os.Stdout); err != nil {
			return err
		}
		return showCached(os.Stdout)
	}

	tensors, _ := flags.GetBool("tensors")

	var resp *api.ShowResponse
	if remote, _ := flags.GetBool("remote"); remote {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return err
		}
		if resp, err = client.Show(cmd.Context()); err != nil {
			return err
		}
	} else {
		preset, _ := flags.GetString("preset")
		if len(args) > 0 {
			preset = args[0]
		}
		m, err := model.New(preset)
		if err != nil {
			return err
		}
		lmModel, ok := m.(*lm.LM)
		if !ok {
			return fmt.Errorf("%w: %s is a %s preset, expected lm", model.ErrUnsupportedModel, preset, m.Kind())
		}
		codebooks, _ := flags.GetInt("codebooks")
		models := &asr.Models{
			LM:    lmModel,
			Codec: mimi.New(mimi.Mimi2024_07(codebooks)),
		}
		if resp, err = server.Show(preset, models, tensors); err != nil {
			return err
		}
	}

	showInfo(os.Stdout, resp, tensors)
	return nil
}

func formatParams(n int64) string {
	switch {
	case n >= 1e9:
		return fmt.Sprintf("%.1fB", float64(n)/1e9)
	case n >= 1e6:
		return fmt.Sprintf("%.1fM", float64(n)/1e6)
	case n >= 1e3:
		return fmt.Sprintf("%.1fK", float64(n)/1e3)
	}
	return fmt.Sprint(n)
}

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

// sortedInfo gibt eine Info-Map sortiert als Tabellenzeilen zurueck
func sortedInfo(info map[string]any) [][]string {
	rows := make([][]string, 0, len(info))
	for _, k := range slices.Sorted(maps.Keys(info)) {
		rows = append(rows, []string{"  " + k, fmt.Sprint(info[k])})
	}
	return rows
}

func showInfo(w io.Writer, resp *api.ShowResponse, tensors bool) {
	section := func(title string, rows [][]string) {
		fmt.Fprintln(w, "  "+title)
		table := newTable(w)
		table.AppendBulk(rows)
		table.Render()
		fmt.Fprintln(w)
	}

	section("Model", append([][]string{
		{"  preset", resp.Preset},
		{"  parameters", formatParams(resp.Parameters)},
	}, sortedInfo(resp.ModelInfo)...))
	section("Codec", sortedInfo(resp.CodecInfo))

	if resp.VocabSize > 0 {
		section("Vocabulary", [][]string{{"  pieces", fmt.Sprint(resp.VocabSize)}})
	}

	if tensors && len(resp.Tensors) > 0 {
		rows := make([][]string, 0, len(resp.Tensors))
		for _, t := range resp.Tensors {
			shape := make([]string, len(t.Shape))
			for i, d := range t.Shape {
				shape[i] = fmt.Sprint(d)
			}
			rows = append(rows, []string{"  " + t.Name, "[" + strings.Join(shape, " ") + "]"})
		}
		section("Tensors", rows)
	}
}

// showPresets listet alle registrierten Presets mit ihrer Architektur
func showPresets(w io.Writer) error {
	table := newTable(w)
	table.SetHeader([]string{"PRESET", "KIND"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	for _, name := range model.Presets() {
		m, err := model.New(name)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		table.Append([]string{name, m.Kind()})
	}
	table.Render()
	return nil
}

// showCached listet die Modelle im lokalen Hugging Face Cache
func showCached(w io.Writer) error {
	cached, err := huggingface.ListCachedModels()
	if err != nil {
		return err
	}
	if len(cached) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	table := newTable(w)
	table.SetHeader([]string{"CACHED"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	for _, id := range cached {
		table.Append([]string{id})
	}
	table.Render()
	return nil
}

// showVocab listet das Vokabular nach Token-Id sortiert
func showVocab(w io.Writer, vocab asr.Vocab) {
	table := newTable(w)
	table.SetHeader([]string{"ID", "PIECE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	for _, id := range slices.Sorted(maps.Keys(vocab)) {
		table.Append([]string{fmt.Sprint(id), fmt.Sprintf("%q", vocab[id])})
	}
	table.Render()
}

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [PRESET]",
		Short: "Show information for a model preset",
		Args:  cobra.MaximumNArgs(1),
		RunE:  ShowHandler,
	}

	cmd.Flags().String("preset", "asr1b", "Language model preset")
	cmd.Flags().Int("codebooks", 32, "Codebooks used by the audio codec")
	cmd.Flags().Bool("list", false, "List all registered presets")
	cmd.Flags().Bool("tensors", false, "List all tensors with their shapes")
	cmd.Flags().String("vocab", "", "List the pieces of a vocabulary file")
	cmd.Flags().Bool("remote", false, "Show the model loaded by the server at MOSHI_HOST")
	return cmd
}
