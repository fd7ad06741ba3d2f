// cmd_transcribe.go - Transkription einer Audiodatei
// Hauptfunktionen: TranscribeHandler, transcribeLocal, transcribeRemote, printStats
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/moshigo/moshi/api"
	"github.com/moshigo/moshi/asr"
	"github.com/moshigo/moshi/audio"
	"github.com/moshigo/moshi/envconfig"
	"github.com/moshigo/moshi/ml"
	"github.com/moshigo/moshi/runner"
)

type transcribeOptions struct {
	Input       string
	Load        asr.LoadConfig
	Temperature float32
	Seed        int64
	MaxSteps    int
	Reference   string
	Stats       bool
	Remote      bool
}

// openInput liefert das Audio und den passenden Content-Type. "-" liest
// rohe float32-Samples von stdin.
func openInput(path string) (io.ReadCloser, string, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), "application/octet-stream", nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	return f, "audio/wav", nil
}

func TranscribeHandler(cmd *cobra.Command, args []string) error {
	opts := transcribeOptions{Input: args[0]}

	flags := cmd.Flags()
	opts.Load.Preset, _ = flags.GetString("preset")
	codebooks, _ := flags.GetInt("codebooks")
	opts.Load.NumCodebooks = codebooks
	opts.Load.ModelRepo, _ = flags.GetString("repo")
	opts.Load.ModelPath, _ = flags.GetString("model")
	opts.Load.MimiPath, _ = flags.GetString("mimi")
	opts.Load.VocabPath, _ = flags.GetString("vocab")
	opts.Temperature, _ = flags.GetFloat32("temperature")
	opts.Seed, _ = flags.GetInt64("seed")
	opts.MaxSteps, _ = flags.GetInt("max-steps")
	opts.Reference, _ = flags.GetString("reference")
	opts.Stats, _ = flags.GetBool("stats")
	opts.Remote, _ = flags.GetBool("remote")

	var reference string
	if opts.Reference != "" {
		b, err := os.ReadFile(opts.Reference)
		if err != nil {
			return err
		}
		reference = string(b)
	}

	display := newTranscriptDisplay(os.Stdout, terminalWidth())

	var (
		summary *asr.Summary
		err     error
	)
	if opts.Remote {
		summary, err = transcribeRemote(cmd.Context(), opts, display)
	} else {
		summary, err = transcribeLocal(cmd.Context(), opts, display)
	}
	display.Finish()
	if err != nil {
		return err
	}

	if reference != "" {
		fmt.Printf("cer: %.4f\n", asr.CharacterErrorRate(reference, display.Transcript()))
	}
	if opts.Stats && summary != nil {
		printStats(os.Stdout, *summary)
	}
	return nil
}

// produce liest die Eingabe in Chunks und reicht sie an den Runner weiter
func produce(input io.Reader, contentType string, r *runner.Runner) error {
	defer r.Close()

	if contentType == "audio/wav" {
		rs, ok := input.(io.ReadSeeker)
		if !ok {
			return errors.New("wav input must be seekable")
		}
		pcm, err := audio.DecodeWAV(rs)
		if err != nil {
			return err
		}
		for _, chunk := range audio.Chunks(pcm, asr.ChunkSize) {
			if _, err := r.Submit(chunk); err != nil {
				return err
			}
		}
		return nil
	}

	reader := audio.NewReader(input, asr.ChunkSize)
	for {
		chunk, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return err
		}
		if _, err := r.Submit(chunk); err != nil {
			return err
		}
	}
}

func transcribeLocal(ctx context.Context, opts transcribeOptions, display *transcriptDisplay) (*asr.Summary, error) {
	input, contentType, err := openInput(opts.Input)
	if err != nil {
		return nil, err
	}
	defer input.Close()

	backend, err := ml.NewBackend("cpu", ml.BackendParams{NumThreads: int(envconfig.NumThreads())})
	if err != nil {
		return nil, err
	}
	defer backend.Close()
	mctx := backend.NewContext()
	defer mctx.Close()

	models, err := asr.Load(mctx, opts.Load)
	if err != nil {
		return nil, err
	}

	stats := asr.NewStats()
	sessionOpts := asr.Options{
		Temperature: opts.Temperature,
		Seed:        opts.Seed,
		MaxSteps:    opts.MaxSteps,
		Callbacks:   stats,
	}
	r := runner.New(func() (runner.Transcriber, error) {
		sess, err := asr.New(mctx, models.LM, models.Codec, models.Vocab, sessionOpts)
		if err != nil {
			return nil, err
		}
		sess.Reset()
		return sess, nil
	}, int(envconfig.QueueWarn()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Run(gctx) })
	g.Go(func() error { return produce(input, contentType, r) })
	g.Go(func() error {
		for out := range r.Transcripts() {
			if out.Err != nil {
				r.Close()
				return fmt.Errorf("chunk %d: %w", out.Chunk, out.Err)
			}
			for _, piece := range out.Pieces {
				display.Write(piece)
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := stats.Summary()
	return &summary, nil
}

func transcribeRemote(ctx context.Context, opts transcribeOptions, display *transcriptDisplay) (*asr.Summary, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, err
	}

	input, contentType, err := openInput(opts.Input)
	if err != nil {
		return nil, err
	}
	defer input.Close()

	req := &api.TranscribeRequest{Temperature: &opts.Temperature, Seed: &opts.Seed}

	var summary *asr.Summary
	err = client.Transcribe(ctx, input, contentType, req, func(resp api.TranscribeResponse) error {
		display.Write(resp.Text)
		if resp.Done {
			summary = &asr.Summary{
				Encode:      asr.Phase{Sum: resp.Metrics.EncodeMean, Count: 1},
				Step:        asr.Phase{Sum: resp.Metrics.StepMean, Count: 1},
				InputFrames: resp.Metrics.InputFrames,
				TextTokens:  resp.Metrics.TextTokens,
			}
		}
		return nil
	})
	return summary, err
}

func formatDuration(d time.Duration) string {
	return d.Round(time.Microsecond).String()
}

// printStats gibt die Laufzeiten der Session als Tabelle aus
func printStats(w io.Writer, s asr.Summary) {
	var data [][]string
	for _, p := range []struct {
		name  string
		phase asr.Phase
	}{
		{"encode", s.Encode},
		{"step", s.Step},
		{"depformer", s.Depformer},
		{"decode", s.Decode},
	} {
		if p.phase.Count == 0 {
			continue
		}
		data = append(data, []string{
			p.name,
			fmt.Sprint(p.phase.Count),
			formatDuration(p.phase.Min),
			formatDuration(p.phase.Mean()),
			formatDuration(p.phase.Max),
		})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"PHASE", "COUNT", "MIN", "MEAN", "MAX"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	fmt.Fprintf(w, "frames: %d  tokens: %d\n", s.InputFrames, s.TextTokens)
}

func newTranscribeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "transcribe FILE",
		Aliases: []string{"run"},
		Short:   "Transcribe a wav file, or raw f32le samples from stdin with -",
		Args:    cobra.ExactArgs(1),
		RunE:    TranscribeHandler,
	}

	cmd.Flags().String("preset", envconfig.LMConfig(), "Language model preset")
	cmd.Flags().Int("codebooks", int(envconfig.NumCodebooks()), "Codebooks used by the audio codec")
	cmd.Flags().String("repo", "", "Hugging Face repository of the model weights")
	cmd.Flags().String("model", "", "Path to the language model safetensors")
	cmd.Flags().String("mimi", "", "Path to the codec safetensors")
	cmd.Flags().String("vocab", "", "Path to the text vocabulary")
	cmd.Flags().Float32("temperature", envconfig.Temperature(), "Sampling temperature, 0 is greedy")
	cmd.Flags().Int64("seed", -1, "Sampling seed, -1 picks one at random")
	cmd.Flags().Int("max-steps", int(envconfig.MaxSteps()), "Reset the language model after this many steps")
	cmd.Flags().String("reference", "", "Reference transcript, prints the character error rate")
	cmd.Flags().Bool("stats", false, "Print timing statistics")
	cmd.Flags().Bool("remote", false, "Transcribe on the server at MOSHI_HOST")
	return cmd
}
