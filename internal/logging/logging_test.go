package logging

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{in: "", want: zapcore.InfoLevel},
		{in: "INFO", want: zapcore.InfoLevel},
		{in: "debug", want: zapcore.DebugLevel},
		{in: "warning", want: zapcore.WarnLevel},
		{in: " error ", want: zapcore.ErrorLevel},
		{in: "verbose", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	logger, flush, err := New("debug", FormatConsole)
	require.NoError(t, err)
	defer flush()
	assert.True(t, logger.V(1).Enabled())

	_, _, err = New("info", "xml")
	require.Error(t, err)
}

func TestWithValues(t *testing.T) {
	t.Parallel()

	var lines []string
	base := funcr.New(func(prefix, args string) {
		lines = append(lines, args)
	}, funcr.Options{})

	ctx := IntoContext(context.Background(), base)
	ctx = WithValues(ctx, "job", "groups")
	logr.FromContextOrDiscard(ctx).Info("hello")

	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"job"="groups"`)
}
