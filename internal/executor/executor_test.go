package executor

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/EternisAI/silo-beacon/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockFileTransfer struct {
	mock.Mock
}

func (m *MockFileTransfer) Download(ctx context.Context, t *task.Task) (string, error) {
	args := m.Called(t.ID)
	return args.String(0), args.Error(1)
}

func (m *MockFileTransfer) Upload(ctx context.Context, t *task.Task) (string, error) {
	args := m.Called(t.ID)
	return args.String(0), args.Error(1)
}

func skipOnWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestExecuteCommand(t *testing.T) {
	skipOnWindows(t)
	d := NewDispatcher("", nil)

	tk := task.New("t1", task.KindCommand, "echo hi")
	result := d.Execute(context.Background(), tk)

	assert.Equal(t, "t1", result.TaskID)
	assert.Equal(t, task.StatusCompleted, result.Status)
	assert.Contains(t, result.Output, "hi")
	assert.Empty(t, result.Error)
	assert.Equal(t, task.StatusCompleted, tk.Status)
}

func TestExecuteCommandNonZeroExitIsCompleted(t *testing.T) {
	skipOnWindows(t)
	d := NewDispatcher("", nil)

	result := d.Execute(context.Background(), task.New("t2", task.KindCommand, "echo failing >&2; exit 3"))

	assert.Equal(t, task.StatusCompleted, result.Status)
	assert.Contains(t, result.Output, "failing")
}

func TestExecuteCommandLaunchFailure(t *testing.T) {
	d := newDispatcher("linux", "", nil)
	d.shell = []string{"/nonexistent/shell-binary", "-c"}

	tk := task.New("t3", task.KindCommand, "echo hi")
	result := d.Execute(context.Background(), tk)

	assert.Equal(t, task.StatusFailed, result.Status)
	assert.NotEmpty(t, result.Error)
	assert.Equal(t, task.StatusFailed, tk.Status)
}

func TestExecuteCommandCancelled(t *testing.T) {
	skipOnWindows(t)
	d := NewDispatcher("", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := d.Execute(ctx, task.New("t4", task.KindCommand, "sleep 5"))
	assert.Equal(t, task.StatusFailed, result.Status)
}

func TestExecuteScriptUsesInterpreter(t *testing.T) {
	skipOnWindows(t)
	d := NewDispatcher("sh", nil)

	result := d.Execute(context.Background(), task.New("t5", task.KindScript, `x="from script"; echo "$x"`))

	assert.Equal(t, task.StatusCompleted, result.Status)
	assert.Contains(t, result.Output, "from script")
}

func TestDefaultInterpreters(t *testing.T) {
	linux := newDispatcher("linux", "", nil)
	assert.Equal(t, []string{"sh", "-c"}, linux.shell)
	assert.Equal(t, []string{"sh"}, linux.interpreter)

	windows := newDispatcher("windows", "", nil)
	assert.Equal(t, []string{"cmd.exe", "/C"}, windows.shell)
	assert.Equal(t, "powershell", windows.interpreter[0])
	assert.Contains(t, windows.interpreter, "Bypass")

	custom := newDispatcher("linux", "bash --noprofile", nil)
	assert.Equal(t, []string{"bash", "--noprofile"}, custom.interpreter)
}

func TestExecuteSleepAcknowledges(t *testing.T) {
	d := NewDispatcher("", nil)

	result := d.Execute(context.Background(), task.New("t6", task.KindSleep, "60"))

	assert.Equal(t, task.StatusCompleted, result.Status)
	assert.Equal(t, SleepAcknowledged, result.Output)
}

func TestExecuteUnknownKind(t *testing.T) {
	d := NewDispatcher("", nil)

	result := d.Execute(context.Background(), task.New("t7", task.Kind(42), ""))

	assert.Equal(t, task.StatusFailed, result.Status)
	assert.Equal(t, "unknown task type", result.Error)
}

func TestExecuteRoutesFileTransfers(t *testing.T) {
	files := new(MockFileTransfer)
	files.On("Download", "dl").Return("ZGF0YQ==", nil)
	files.On("Upload", "up").Return("", errors.New("disk full"))

	d := NewDispatcher("", files)

	dl := d.Execute(context.Background(), task.New("dl", task.KindFileDownload, "/etc/hosts"))
	assert.Equal(t, task.StatusCompleted, dl.Status)
	assert.Equal(t, "ZGF0YQ==", dl.Output)

	up := d.Execute(context.Background(), task.New("up", task.KindFileUpload, ""))
	assert.Equal(t, task.StatusFailed, up.Status)
	assert.Equal(t, "disk full", up.Error)

	files.AssertExpectations(t)
}

type panickingFiles struct{}

func (panickingFiles) Download(context.Context, *task.Task) (string, error) { panic("boom") }
func (panickingFiles) Upload(context.Context, *task.Task) (string, error)   { panic("boom") }

func TestExecuteRecoversPanics(t *testing.T) {
	d := NewDispatcher("", panickingFiles{})

	tk := task.New("p", task.KindFileDownload, "x")
	result := d.Execute(context.Background(), tk)

	assert.Equal(t, task.StatusFailed, result.Status)
	assert.Contains(t, result.Error, "boom")
	assert.Equal(t, task.StatusFailed, tk.Status)
}

func TestLocalFilesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")
	files := NewLocalFiles()

	up := task.New("u", task.KindFileUpload, base64.StdEncoding.EncodeToString([]byte("payload")))
	up.AddMetadata(MetadataPath, dest)

	msg, err := files.Upload(context.Background(), up)
	require.NoError(t, err)
	assert.Contains(t, msg, dest)

	written, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(written))

	out, err := files.Download(context.Background(), task.New("d", task.KindFileDownload, dest))
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("payload")), out)
}

func TestLocalFilesErrors(t *testing.T) {
	files := NewLocalFiles()

	_, err := files.Upload(context.Background(), task.New("u", task.KindFileUpload, "aGk="))
	assert.ErrorIs(t, err, ErrMissingPath)

	bad := task.New("u2", task.KindFileUpload, "!!not base64!!")
	bad.AddMetadata(MetadataPath, filepath.Join(t.TempDir(), "x"))
	_, err = files.Upload(context.Background(), bad)
	assert.Error(t, err)

	_, err = files.Download(context.Background(), task.New("d", task.KindFileDownload, filepath.Join(t.TempDir(), "missing")))
	assert.Error(t, err)
}
