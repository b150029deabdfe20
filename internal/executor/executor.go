package executor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/EternisAI/silo-beacon/internal/task"
)

const (
	SleepAcknowledged = "Sleep command acknowledged"
	unknownTaskType   = "unknown task type"
)

type Executor interface {
	Execute(ctx context.Context, t *task.Task) *task.Result
}

// FileTransfer moves file contents between the agent and the controller.
type FileTransfer interface {
	Download(ctx context.Context, t *task.Task) (string, error)
	Upload(ctx context.Context, t *task.Task) (string, error)
}

// Dispatcher runs tasks by kind. It never panics; every outcome, including an
// unknown kind, is reported as a Result.
type Dispatcher struct {
	shell       []string
	interpreter []string
	files       FileTransfer
}

// NewDispatcher builds a dispatcher for the current OS. interpreter may carry
// arguments, e.g. "powershell -ExecutionPolicy Bypass"; empty selects the
// platform default. A nil files collaborator uses LocalFiles.
func NewDispatcher(interpreter string, files FileTransfer) *Dispatcher {
	return newDispatcher(runtime.GOOS, interpreter, files)
}

func newDispatcher(goos, interpreter string, files FileTransfer) *Dispatcher {
	d := &Dispatcher{files: files}

	if goos == "windows" {
		d.shell = []string{"cmd.exe", "/C"}
		d.interpreter = []string{"powershell", "-NoProfile", "-ExecutionPolicy", "Bypass"}
	} else {
		d.shell = []string{"sh", "-c"}
		d.interpreter = []string{"sh"}
	}

	if fields := strings.Fields(interpreter); len(fields) > 0 {
		d.interpreter = fields
	}
	if d.files == nil {
		d.files = NewLocalFiles()
	}
	return d
}

func (d *Dispatcher) Execute(ctx context.Context, t *task.Task) (result *task.Result) {
	start := time.Now()
	t.SetStatus(task.StatusRunning)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Task execution panicked", "task_id", t.ID, "panic", r)
			result = task.Failed(t.ID, fmt.Sprintf("task execution panicked: %v", r))
		}
		t.SetStatus(result.Status)
		slog.Info("Task executed",
			"task_id", t.ID,
			"kind", t.Kind.String(),
			"status", result.Status.String(),
			"duration", time.Since(start))
	}()

	switch t.Kind {
	case task.KindCommand:
		args := append(append([]string{}, d.shell[1:]...), t.Payload)
		return d.runTask(ctx, t, d.shell[0], args...)
	case task.KindScript:
		args := append(append([]string{}, d.interpreter[1:]...), "-c", t.Payload)
		return d.runTask(ctx, t, d.interpreter[0], args...)
	case task.KindFileDownload:
		output, err := d.files.Download(ctx, t)
		return wrap(t, output, err)
	case task.KindFileUpload:
		output, err := d.files.Upload(ctx, t)
		return wrap(t, output, err)
	case task.KindSleep:
		return task.NewResult(t.ID, task.StatusCompleted, SleepAcknowledged)
	default:
		return task.Failed(t.ID, unknownTaskType)
	}
}

func (d *Dispatcher) runTask(ctx context.Context, t *task.Task, name string, args ...string) *task.Result {
	output, err := runCommand(ctx, name, args...)
	if err != nil {
		slog.Warn("Failed to run task command", "task_id", t.ID, "error", err)
		r := task.Failed(t.ID, err.Error())
		r.Output = output
		return r
	}
	return task.NewResult(t.ID, task.StatusCompleted, output)
}

func wrap(t *task.Task, output string, err error) *task.Result {
	if err != nil {
		return task.Failed(t.ID, err.Error())
	}
	return task.NewResult(t.ID, task.StatusCompleted, output)
}
