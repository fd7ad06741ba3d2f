// Package api - Stream-basierte Client-Methoden.
// Dieses Modul enthaelt die NDJSON-Auswertung von /api/transcribe.

package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
)

const maxBufferSize = 8 << 20

// TranscribeResponseFunc is invoked for every line of the response stream.
// Returning an error stops reading and is returned by [Client.Transcribe].
type TranscribeResponseFunc func(TranscribeResponse) error

// Transcribe uploads audio and streams the transcript back. contentType is
// audio/wav for WAV files; anything else is read as raw float32 samples.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, contentType string, req *TranscribeRequest, fn TranscribeResponseFunc) error {
	u := c.base.JoinPath("/api/transcribe")
	if req != nil {
		q := u.Query()
		if req.Temperature != nil {
			q.Set("temperature", strconv.FormatFloat(float64(*req.Temperature), 'g', -1, 32))
		}
		if req.TopK != 0 {
			q.Set("top_k", strconv.Itoa(req.TopK))
		}
		if req.TopP != 0 {
			q.Set("top_p", strconv.FormatFloat(float64(req.TopP), 'g', -1, 32))
		}
		if req.Seed != nil {
			q.Set("seed", strconv.FormatInt(*req.Seed, 10))
		}
		u.RawQuery = q.Encode()
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), audio)
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", contentType)
	request.Header.Set("Accept", "application/x-ndjson")
	request.Header.Set("User-Agent", userAgent())

	response, err := c.http.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	scanner := bufio.NewScanner(response.Body)
	// increase the buffer size to avoid running out of space
	scanBuf := make([]byte, 0, maxBufferSize)
	scanner.Buffer(scanBuf, maxBufferSize)
	for scanner.Scan() {
		var errorResponse struct {
			Error string `json:"error,omitempty"`
		}

		bts := scanner.Bytes()
		if err := json.Unmarshal(bts, &errorResponse); err != nil {
			if response.StatusCode >= http.StatusBadRequest {
				return StatusError{
					StatusCode:   response.StatusCode,
					Status:       response.Status,
					ErrorMessage: string(bts),
				}
			}
			return errors.New(string(bts))
		}

		if response.StatusCode >= http.StatusBadRequest {
			return StatusError{
				StatusCode:   response.StatusCode,
				Status:       response.Status,
				ErrorMessage: errorResponse.Error,
			}
		}
		if errorResponse.Error != "" {
			return errors.New(errorResponse.Error)
		}

		var resp TranscribeResponse
		if err := json.Unmarshal(bts, &resp); err != nil {
			return err
		}
		if err := fn(resp); err != nil {
			return err
		}
	}

	return scanner.Err()
}
