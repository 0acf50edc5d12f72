package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStartRejectsInvalidCron(t *testing.T) {
	_, err := Start("not a cron", func(context.Context) (int64, error) { return 0, nil }, nil)
	require.Error(t, err)
}

func TestStartRegistersCleanupJob(t *testing.T) {
	s, err := Start("0 4 * * *", func(context.Context) (int64, error) { return 0, nil }, nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Stop()) })

	require.Equal(t, []string{cleanupJobName}, s.Jobs())
}

func TestCleanupRunsOnSeoulWallClock(t *testing.T) {
	s, err := Start("30 4 * * *", func(context.Context) (int64, error) { return 0, nil }, nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Stop()) })

	seoul := time.FixedZone("UTC+9", 9*60*60)
	require.Eventually(t, func() bool {
		runs, err := s.NextRuns()
		return err == nil && len(runs) == 1 && !runs[0].IsZero()
	}, time.Second, 10*time.Millisecond)

	runs, err := s.NextRuns()
	require.NoError(t, err)
	next := runs[0].In(seoul)
	require.Equal(t, 4, next.Hour())
	require.Equal(t, 30, next.Minute())
}
