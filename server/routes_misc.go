// routes_misc.go - Kleinere Handler und NDJSON-Streaming
// Enthaelt: VersionHandler, HealthHandler, ShowHandler, streamResponse

package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/moshigo/moshi/api"
	"github.com/moshigo/moshi/asr"
	"github.com/moshigo/moshi/model"
	"github.com/moshigo/moshi/model/lm"
	"github.com/moshigo/moshi/model/mimi"
	"github.com/moshigo/moshi/version"
)

func (s *Server) VersionHandler(c *gin.Context) {
	c.JSON(http.StatusOK, api.VersionResponse{Version: version.Version})
}

func (s *Server) HealthHandler(c *gin.Context) {
	if s.models == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "loading"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ShowHandler beschreibt das geladene Modell; ?verbose=true listet die Tensoren
func (s *Server) ShowHandler(c *gin.Context) {
	verbose, _ := strconv.ParseBool(c.Query("verbose"))
	resp, err := Show(s.preset, s.models, verbose)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Show builds the description of a model. It works on unpopulated models,
// so the CLI can show presets without weights.
func Show(preset string, models *asr.Models, verbose bool) (*api.ShowResponse, error) {
	infos, err := model.Inventory(models.LM)
	if err != nil {
		return nil, err
	}
	codecInfos, err := model.Inventory(models.Codec)
	if err != nil {
		return nil, err
	}

	resp := &api.ShowResponse{
		Preset:    preset,
		ModelInfo: modelInfo(models.LM.Config()),
		CodecInfo: codecInfo(models.Codec.Config()),
		VocabSize: len(models.Vocab),
	}
	for _, info := range append(infos, codecInfos...) {
		n := int64(1)
		for _, d := range info.Shape {
			n *= int64(d)
		}
		resp.Parameters += n
		if verbose {
			resp.Tensors = append(resp.Tensors, api.Tensor{Name: info.Name, Shape: info.Shape})
		}
	}
	return resp, nil
}

func modelInfo(cfg lm.Config) map[string]any {
	info := map[string]any{
		"d_model":             cfg.Transformer.DModel,
		"num_heads":           cfg.Transformer.NumHeads,
		"num_layers":          cfg.Transformer.NumLayers,
		"context":             cfg.Transformer.Context,
		"text_in_vocab_size":  cfg.TextInVocabSize,
		"text_out_vocab_size": cfg.TextOutVocabSize,
		"audio_vocab_size":    cfg.AudioVocabSize,
		"audio_codebooks":     cfg.AudioCodebooks,
		"audio_delays":        cfg.AudioDelays,
	}
	if cfg.Depformer != nil {
		info["depformer_slices"] = cfg.Depformer.NumSlices
		info["depformer_layers"] = cfg.Depformer.Transformer.NumLayers
	}
	return info
}

func codecInfo(cfg mimi.Config) map[string]any {
	return map[string]any{
		"sample_rate":   cfg.SampleRate,
		"frame_rate":    cfg.FrameRate,
		"frame_size":    cfg.FrameSize(),
		"num_codebooks": cfg.QuantizerNQ,
		"bins":          cfg.Bins,
		"dimension":     cfg.Seanet.Dimension,
	}
}

func streamResponse(c *gin.Context, ch chan any) {
	c.Header("Content-Type", "application/x-ndjson")
	c.Stream(func(w io.Writer) bool {
		val, ok := <-ch
		if !ok {
			return false
		}

		if h, ok := val.(gin.H); ok {
			if e, ok := h["error"].(string); ok {
				status, ok := h["status"].(int)
				if !ok {
					status = http.StatusInternalServerError
				}

				if !c.Writer.Written() {
					c.Header("Content-Type", "application/json")
					c.JSON(status, gin.H{"error": e})
				} else {
					if err := json.NewEncoder(c.Writer).Encode(gin.H{"error": e}); err != nil {
						slog.Error("streamResponse failed to encode json error", "error", err)
					}
				}

				return false
			}
		}

		bts, err := json.Marshal(val)
		if err != nil {
			slog.Info(fmt.Sprintf("streamResponse: json.Marshal failed with %s", err))
			return false
		}

		bts = append(bts, '\n')
		if _, err := w.Write(bts); err != nil {
			slog.Info(fmt.Sprintf("streamResponse: w.Write failed with %s", err))
			return false
		}

		return true
	})
}
