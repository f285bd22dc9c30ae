package receiver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"

	"github.com/obsidianstack/alertd/pkg/types"
)

// maxBodyBytes bounds a single ingest request.
const maxBodyBytes = 1 << 20

// Sink stores accepted samples. metrics.Buffer implements it.
type Sink interface {
	Add(samples ...types.Sample)
}

// Receiver is the sample ingest handler.
type Receiver struct {
	sink Sink
}

// New creates a Receiver that writes accepted samples to sink.
func New(sink Sink) *Receiver {
	return &Receiver{sink: sink}
}

type acceptedResponse struct {
	Accepted int `json:"accepted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "read body: " + err.Error()})
		return
	}
	if len(body) > maxBodyBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "body too large"})
		return
	}

	samples, err := decode(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	rc.sink.Add(samples...)
	slog.Debug("receiver: samples accepted", "count", len(samples))
	writeJSON(w, http.StatusAccepted, acceptedResponse{Accepted: len(samples)})
}

// decode accepts a single sample object or an array of samples.
func decode(body []byte) ([]types.Sample, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty body")
	}

	var samples []types.Sample
	if body[0] == '[' {
		if err := json.Unmarshal(body, &samples); err != nil {
			return nil, fmt.Errorf("decode samples: %w", err)
		}
	} else {
		var s types.Sample
		if err := json.Unmarshal(body, &s); err != nil {
			return nil, fmt.Errorf("decode sample: %w", err)
		}
		samples = []types.Sample{s}
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples")
	}

	for i, s := range samples {
		if s.Metric == "" {
			return nil, fmt.Errorf("sample %d: type is required", i)
		}
		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			return nil, fmt.Errorf("sample %d: value must be finite", i)
		}
	}
	return samples, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
