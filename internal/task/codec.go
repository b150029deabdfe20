package task

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownKind = errors.New("unknown task type")
	ErrMissingID   = errors.New("task id is required")
)

type wireTask struct {
	ID       string            `json:"id"`
	Type     int               `json:"type"`
	Payload  string            `json:"payload"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type wireResult struct {
	TaskID string `json:"task_id"`
	Status int    `json:"status"`
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

func Encode(t *Task) ([]byte, error) {
	return json.Marshal(wireTask{
		ID:       t.ID,
		Type:     int(t.Kind),
		Payload:  t.Payload,
		Metadata: t.Metadata,
	})
}

// Decode parses a task from its wire form. An empty body means no task is
// pending and yields (nil, nil).
func Decode(data []byte) (*Task, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("{}")) || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	var w wireTask
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	if w.ID == "" {
		return nil, ErrMissingID
	}

	kind := Kind(w.Type)
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, w.Type)
	}

	t := New(w.ID, kind, w.Payload)
	for k, v := range w.Metadata {
		t.AddMetadata(k, v)
	}
	return t, nil
}

func EncodeResult(r *Result) ([]byte, error) {
	return json.Marshal(wireResult{
		TaskID: r.TaskID,
		Status: int(r.Status),
		Output: r.Output,
		Error:  r.Error,
	})
}

func DecodeResult(data []byte) (*Result, error) {
	var w wireResult
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	if w.TaskID == "" {
		return nil, ErrMissingID
	}
	return &Result{
		TaskID:     w.TaskID,
		Status:     Status(w.Status),
		Output:     w.Output,
		Error:      w.Error,
		FinishedAt: time.Now(),
	}, nil
}
