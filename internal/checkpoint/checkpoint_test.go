package checkpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpoint_MarshalRoundTrip(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)
	cp := Checkpoint{Job: "groups", Cursor: 37, Total: 100, UpdatedAt: at}

	data, err := cp.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"job":"groups","cursor":37,"total":100,"updatedAt":"2026-05-01T08:30:00Z"}`, string(data))

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, cp, decoded)
	assert.Equal(t, 63, decoded.Remaining())
}

func TestCheckpoint_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cp      Checkpoint
		wantErr string
	}{
		{name: "start", cp: Checkpoint{Job: "members", Total: 10}},
		{name: "end", cp: Checkpoint{Job: "members", Cursor: 10, Total: 10}},
		{name: "empty list", cp: Checkpoint{Job: "members"}},
		{name: "cursor past total", cp: Checkpoint{Job: "members", Cursor: 11, Total: 10}, wantErr: "outside [0, 10]"},
		{name: "negative cursor", cp: Checkpoint{Job: "members", Cursor: -1, Total: 10}, wantErr: "outside"},
		{name: "negative total", cp: Checkpoint{Job: "members", Total: -1}, wantErr: "negative total"},
		{name: "path in job", cp: Checkpoint{Job: "../etc", Total: 1}, wantErr: "invalid job name"},
		{name: "empty job", cp: Checkpoint{Total: 1}, wantErr: "invalid job name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cp.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestUnmarshal_Invalid(t *testing.T) {
	t.Parallel()

	_, err := Unmarshal([]byte(`{"job":`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode checkpoint")

	_, err = Unmarshal([]byte(`{"job":"groups","cursor":5,"total":2}`))
	require.Error(t, err)
}

func TestNew(t *testing.T) {
	t.Parallel()

	now := time.Now()
	cp := New("lifecycle", 42, now)
	assert.Equal(t, Checkpoint{Job: "lifecycle", Cursor: 0, Total: 42, UpdatedAt: now}, cp)
	assert.NoError(t, cp.Validate())
}
