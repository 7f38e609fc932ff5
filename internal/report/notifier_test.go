package report_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/roster-sync/internal/report"
	"github.com/stacklok/roster-sync/internal/report/mocks"
)

func sampleReport() *report.Report {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return &report.Report{
		RunID:      "6f1c1f9e-6d1b-4f39-9a57-3c1b6f0f2f10",
		Job:        "lifecycle",
		StartedAt:  start,
		FinishedAt: start.Add(90 * time.Second),
		Processed:  3,
		Completed:  true,
		Counts:     map[report.Action]int{report.ActionSuspended: 1, report.ActionErrored: 1},
		Entries: []report.Entry{
			{Action: report.ActionSuspended, Address: "a@x.org", Timestamp: start},
			{Action: report.ActionErrored, Address: "b@x.org", Reason: "user-not-found", Timestamp: start},
		},
	}
}

func TestLogNotifier(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var lines []string
	logger := funcr.New(func(_, args string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, args)
	}, funcr.Options{})

	ctx := logr.NewContext(context.Background(), logger)
	require.NoError(t, report.NewLogNotifier().Notify(ctx, sampleReport()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"msg"="Run report"`)
	assert.Contains(t, lines[0], `"suspended"=1`)
	assert.Contains(t, lines[0], `"duration"="1m30s"`)
	assert.True(t, strings.Contains(lines[1], `"reason"="user-not-found"`), lines[1])
}

func TestMulti(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	first := mocks.NewMockNotifier(ctrl)
	second := mocks.NewMockNotifier(ctrl)
	r := sampleReport()

	boom := errors.New("broker down")
	first.EXPECT().Notify(gomock.Any(), r).Return(boom)
	second.EXPECT().Notify(gomock.Any(), r).Return(nil)

	err := report.Multi(first, second).Notify(context.Background(), r)
	require.ErrorIs(t, err, boom, "every notifier runs and failures are joined")
}
