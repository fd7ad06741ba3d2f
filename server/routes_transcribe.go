// routes_transcribe.go - Streaming-Transkription ueber HTTP
// Enthaelt: TranscribeHandler, Audio-Produzent, NDJSON-Ausgabe

package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/moshigo/moshi/api"
	"github.com/moshigo/moshi/asr"
	"github.com/moshigo/moshi/audio"
	"github.com/moshigo/moshi/runner"
)

// maxWAVSize begrenzt WAV-Uploads, die vollstaendig gepuffert werden
const maxWAVSize = 512 << 20

func isWAV(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch mt {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return true
	}
	return false
}

func (s *Server) sessionOptions(req api.TranscribeRequest, cb asr.Callbacks) asr.Options {
	opts := s.defaults
	if req.Temperature != nil {
		opts.Temperature = *req.Temperature
	}
	if req.TopK != 0 {
		opts.TopK = req.TopK
	}
	if req.TopP != 0 {
		opts.TopP = req.TopP
	}
	if req.Seed != nil {
		opts.Seed = *req.Seed
	}
	opts.Callbacks = cb
	return opts
}

// produce zerlegt den Request-Body in Chunks und uebergibt sie dem Runner
func produce(body io.Reader, contentType string, r *runner.Runner) error {
	if isWAV(contentType) {
		b, err := io.ReadAll(io.LimitReader(body, maxWAVSize))
		if err != nil {
			return err
		}
		pcm, err := audio.DecodeWAV(bytes.NewReader(b))
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

	ar := audio.NewReader(body, asr.ChunkSize)
	for {
		chunk, err := ar.Next()
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

func (s *Server) TranscribeHandler(c *gin.Context) {
	var req api.TranscribeRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.sem.Acquire(c.Request.Context(), 1); err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "request canceled while waiting for the model"})
		return
	}

	id := uuid.NewString()
	start := time.Now()
	stats := asr.NewStats()
	opts := s.sessionOptions(req, stats)
	r := runner.New(func() (runner.Transcriber, error) {
		sess, err := asr.New(s.ctx, s.models.LM, s.models.Codec, s.models.Vocab, opts)
		if err != nil {
			return nil, err
		}
		sess.Reset()
		return sess, nil
	}, s.queueWarn)

	// gin.Context wird nach dem Handler wiederverwendet
	reqCtx := c.Request.Context()
	body := c.Request.Body
	contentType := c.GetHeader("Content-Type")

	ch := make(chan any)
	send := func(v any) {
		select {
		case ch <- v:
		case <-reqCtx.Done():
		}
	}

	go func() {
		defer s.sem.Release(1)
		defer close(ch)

		ctx, cancel := context.WithCancel(reqCtx)
		defer cancel()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return r.Run(gctx) })
		g.Go(func() error {
			defer r.Close()
			return produce(body, contentType, r)
		})

		var transcript strings.Builder
		var failed error
		last := 0
		for out := range r.Transcripts() {
			last = out.Chunk
			if out.Err != nil {
				failed = fmt.Errorf("chunk %d: %w", out.Chunk, out.Err)
				cancel()
				continue
			}
			text := strings.Join(out.Pieces, "")
			transcript.WriteString(text)
			send(api.TranscribeResponse{Session: id, Chunk: out.Chunk, Text: text})
		}

		err := g.Wait()
		if failed != nil {
			err = failed
		}
		if err != nil {
			slog.Error("transcription failed", "session", id, "error", err)
			send(gin.H{"error": err.Error()})
			return
		}

		summary := stats.Summary()
		slog.Info("transcription done", "session", id, "stats", summary)
		send(api.TranscribeResponse{
			Session:    id,
			Chunk:      last,
			Done:       true,
			Transcript: strings.TrimSpace(transcript.String()),
			Metrics: api.Metrics{
				TotalDuration: time.Since(start),
				InputFrames:   summary.InputFrames,
				TextTokens:    summary.TextTokens,
				EncodeMean:    summary.Encode.Mean(),
				StepMean:      summary.Step.Mean(),
			},
		})
	}()

	streamResponse(c, ch)
}
