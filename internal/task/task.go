package task

import (
	"time"
)

type Kind int

const (
	KindCommand Kind = iota
	KindFileDownload
	KindFileUpload
	KindSleep
	KindScript
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindFileDownload:
		return "file_download"
	case KindFileUpload:
		return "file_upload"
	case KindSleep:
		return "sleep"
	case KindScript:
		return "script"
	default:
		return "unknown"
	}
}

func (k Kind) Valid() bool {
	return k >= KindCommand && k <= KindScript
}

type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Task is a unit of work issued by the controller.
type Task struct {
	ID        string
	Kind      Kind
	Payload   string
	Status    Status
	CreatedAt time.Time
	Metadata  map[string]string
}

func New(id string, kind Kind, payload string) *Task {
	return &Task{
		ID:        id,
		Kind:      kind,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: time.Now(),
		Metadata:  make(map[string]string),
	}
}

func (t *Task) SetStatus(status Status) {
	t.Status = status
}

func (t *Task) AddMetadata(key, value string) {
	if t.Metadata == nil {
		t.Metadata = make(map[string]string)
	}
	t.Metadata[key] = value
}

// Result is the outcome of executing a Task. It references the task by ID only.
type Result struct {
	TaskID     string
	Status     Status
	Output     string
	FinishedAt time.Time
	Error      string
}

func NewResult(taskID string, status Status, output string) *Result {
	return &Result{
		TaskID:     taskID,
		Status:     status,
		Output:     output,
		FinishedAt: time.Now(),
	}
}

// Failed builds a failed result carrying a human readable message.
func Failed(taskID, message string) *Result {
	r := NewResult(taskID, StatusFailed, "")
	r.Error = message
	return r
}
