package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestRegisterJob_Validation(t *testing.T) {
	s := NewService(arbor.NewLogger())
	noop := func(ctx context.Context) error { return nil }

	tests := []struct {
		name     string
		job      string
		schedule string
		wantErr  bool
	}{
		{name: "six field schedule", job: "refresh", schedule: "0 */30 * * * *"},
		{name: "five field schedule rejected", job: "other", schedule: "*/30 * * * *", wantErr: true},
		{name: "garbage rejected", job: "other", schedule: "soon", wantErr: true},
		{name: "duplicate rejected", job: "refresh", schedule: "0 * * * * *", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.RegisterJob(tt.job, tt.schedule, noop)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTriggerJob_RecordsStatus(t *testing.T) {
	s := NewService(arbor.NewLogger())
	calls := 0
	require.NoError(t, s.RegisterJob("refresh", "0 0 * * * *", func(ctx context.Context) error {
		calls++
		if calls == 2 {
			return errors.New("upstream down")
		}
		return nil
	}))

	require.NoError(t, s.TriggerJob("refresh"))
	status, err := s.GetJobStatus("refresh")
	require.NoError(t, err)
	assert.Equal(t, 1, status.Runs)
	assert.NotNil(t, status.LastRun)
	assert.Empty(t, status.LastError)
	assert.Nil(t, status.NextRun, "not started")

	assert.Error(t, s.TriggerJob("refresh"))
	status, err = s.GetJobStatus("refresh")
	require.NoError(t, err)
	assert.Equal(t, 2, status.Runs)
	assert.Equal(t, "upstream down", status.LastError)

	assert.Error(t, s.TriggerJob("missing"))
	_, err = s.GetJobStatus("missing")
	assert.Error(t, err)
}

func TestTriggerJob_NoOverlap(t *testing.T) {
	s := NewService(arbor.NewLogger())
	release := make(chan struct{})
	started := make(chan struct{})
	var runs atomic.Int32

	require.NoError(t, s.RegisterJob("refresh", "0 0 * * * *", func(ctx context.Context) error {
		runs.Add(1)
		close(started)
		<-release
		return nil
	}))

	done := make(chan error, 1)
	go func() { done <- s.TriggerJob("refresh") }()
	<-started

	assert.ErrorIs(t, s.TriggerJob("refresh"), ErrJobRunning)

	status, err := s.GetJobStatus("refresh")
	require.NoError(t, err)
	assert.True(t, status.IsRunning)
	assert.Equal(t, 1, status.Skipped)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), runs.Load())
}

func TestTriggerJob_RecoversPanic(t *testing.T) {
	s := NewService(arbor.NewLogger())
	require.NoError(t, s.RegisterJob("refresh", "0 0 * * * *", func(ctx context.Context) error {
		panic("boom")
	}))

	err := s.TriggerJob("refresh")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestStartStop(t *testing.T) {
	s := NewService(arbor.NewLogger())
	ran := make(chan struct{}, 4)
	require.NoError(t, s.RegisterJob("tick", "* * * * * *", func(ctx context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}))

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Start())

	status, err := s.GetJobStatus("tick")
	require.NoError(t, err)
	require.NotNil(t, status.NextRun)

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.NoError(t, s.Stop())
}
