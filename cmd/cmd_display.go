// cmd_display.go - Live-Ausgabe der Transkription
// Hauptfunktionen: transcriptDisplay.Write, terminalWidth
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-runewidth"
	"golang.org/x/term"
)

// transcriptDisplay schreibt Textstuecke mit Word-Wrap. Stuecke beginnen
// mit einem Leerzeichen, wenn sie ein neues Wort eroeffnen.
type transcriptDisplay struct {
	w          io.Writer
	width      int
	lineLength int
	wordBuffer string

	text strings.Builder
}

func newTranscriptDisplay(w io.Writer, width int) *transcriptDisplay {
	return &transcriptDisplay{w: w, width: width}
}

// terminalWidth liefert 0, wenn stdout kein Terminal ist
func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0
	}
	return width
}

// Write gibt ein Textstueck aus und merkt es sich fuer Transcript
func (d *transcriptDisplay) Write(piece string) {
	d.text.WriteString(piece)

	if d.width < 10 {
		fmt.Fprint(d.w, piece)
		return
	}

	for _, ch := range piece {
		chWidth := runewidth.RuneWidth(ch)
		if d.lineLength+chWidth > d.width-5 {
			// Wort passt nicht mehr in die Zeile
			if runewidth.StringWidth(d.wordBuffer) > d.width-10 || ch == ' ' {
				fmt.Fprintln(d.w)
				d.lineLength = 0
				if ch == ' ' {
					d.wordBuffer = ""
					continue
				}
				fmt.Fprintf(d.w, "%c", ch)
				d.wordBuffer = string(ch)
				d.lineLength = chWidth
				continue
			}

			if a := runewidth.StringWidth(d.wordBuffer); a > 0 {
				fmt.Fprintf(d.w, "\x1b[%dD", a)
			}
			fmt.Fprintf(d.w, "\x1b[K\n%s%c", d.wordBuffer, ch)
			d.wordBuffer += string(ch)
			d.lineLength = runewidth.StringWidth(d.wordBuffer)
			continue
		}

		fmt.Fprintf(d.w, "%c", ch)
		d.lineLength += chWidth
		switch ch {
		case ' ', '\t':
			d.wordBuffer = ""
		case '\n', '\r':
			d.lineLength = 0
			d.wordBuffer = ""
		default:
			d.wordBuffer += string(ch)
		}
	}
}

// Finish schliesst die Ausgabezeile ab
func (d *transcriptDisplay) Finish() {
	if d.text.Len() > 0 {
		fmt.Fprintln(d.w)
	}
}

func (d *transcriptDisplay) Transcript() string {
	return strings.TrimSpace(d.text.String())
}
