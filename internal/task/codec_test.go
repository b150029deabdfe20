package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	kinds := []Kind{KindCommand, KindFileDownload, KindFileUpload, KindSleep, KindScript}

	for _, kind := range kinds {
		t.Run(kind.String(), func(t *testing.T) {
			original := New("task-42", kind, `echo "quoted" && ls -la`)
			original.AddMetadata("path", "/tmp/out.bin")

			data, err := Encode(original)
			require.NoError(t, err)

			decoded, err := Decode(data)
			require.NoError(t, err)
			require.NotNil(t, decoded)

			assert.Equal(t, original.ID, decoded.ID)
			assert.Equal(t, original.Kind, decoded.Kind)
			assert.Equal(t, original.Payload, decoded.Payload)
			assert.Equal(t, "/tmp/out.bin", decoded.Metadata["path"])
			assert.Equal(t, StatusPending, decoded.Status)
		})
	}
}

func TestDecodeEmptyBodyMeansNoTask(t *testing.T) {
	for _, body := range []string{"", "  \n", "{}", "null"} {
		decoded, err := Decode([]byte(body))
		assert.NoError(t, err)
		assert.Nil(t, decoded)
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	_, err := Decode([]byte(`{"id":"t1","type":9,"payload":"x"}`))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestDecodeRejectsMissingID(t *testing.T) {
	_, err := Decode([]byte(`{"type":0,"payload":"whoami"}`))
	assert.ErrorIs(t, err, ErrMissingID)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte(`{"id":`))
	assert.Error(t, err)
}

func TestResultEncodingProjectsStatusToInteger(t *testing.T) {
	r := NewResult("task-1", StatusCompleted, "hi\n")

	data, err := EncodeResult(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"task_id":"task-1","status":2,"output":"hi\n"}`, string(data))

	decoded, err := DecodeResult(data)
	require.NoError(t, err)
	assert.Equal(t, "task-1", decoded.TaskID)
	assert.Equal(t, StatusCompleted, decoded.Status)
	assert.Equal(t, "hi\n", decoded.Output)
}

func TestFailedResultCarriesError(t *testing.T) {
	r := Failed("task-9", "boom")

	data, err := EncodeResult(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"task_id":"task-9","status":3,"output":"","error":"boom"}`, string(data))
}

func TestSetStatus(t *testing.T) {
	tk := New("t", KindSleep, "")
	assert.Equal(t, StatusPending, tk.Status)

	tk.SetStatus(StatusRunning)
	assert.Equal(t, StatusRunning, tk.Status)

	tk.SetStatus(StatusCompleted)
	assert.Equal(t, StatusCompleted, tk.Status)
	assert.False(t, tk.CreatedAt.IsZero())
}

func TestKindValid(t *testing.T) {
	assert.True(t, KindScript.Valid())
	assert.False(t, Kind(-1).Valid())
	assert.False(t, Kind(5).Valid())
	assert.Equal(t, "unknown", Kind(5).String())
}
