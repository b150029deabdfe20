package executor

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/EternisAI/silo-beacon/internal/task"
)

const MetadataPath = "path"

var ErrMissingPath = errors.New("upload task requires a destination path")

// LocalFiles reads and writes whole files on the local filesystem. Payloads
// travel base64 encoded.
type LocalFiles struct{}

func NewLocalFiles() *LocalFiles {
	return &LocalFiles{}
}

// Download returns the contents of the file named by the task payload.
func (LocalFiles) Download(_ context.Context, t *task.Task) (string, error) {
	data, err := os.ReadFile(t.Payload)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Upload writes the decoded payload to metadata["path"].
func (LocalFiles) Upload(_ context.Context, t *task.Task) (string, error) {
	path := t.Metadata[MetadataPath]
	if path == "" {
		return "", ErrMissingPath
	}

	data, err := base64.StdEncoding.DecodeString(t.Payload)
	if err != nil {
		return "", fmt.Errorf("failed to decode payload: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(data), path), nil
}
