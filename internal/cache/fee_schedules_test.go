package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boxoffice/internal/models"
)

type slowSource struct {
	calls    atomic.Int32
	release  chan struct{}
	schedule *models.FeeSchedule
}

func (s *slowSource) CreateFeeSchedule(ctx context.Context, schedule *models.FeeSchedule) error {
	s.schedule = schedule
	return nil
}

func (s *slowSource) GetFeeSchedule(ctx context.Context, id uuid.UUID) (*models.FeeSchedule, error) {
	s.calls.Add(1)
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if s.schedule == nil || s.schedule.ID != id {
		return nil, nil
	}
	return s.schedule, nil
}

func TestFeeSchedulesCoalescesConcurrentMisses(t *testing.T) {
	id := uuid.New()
	src := &slowSource{
		release: make(chan struct{}),
		schedule: &models.FeeSchedule{ID: id, Ranges: []models.FeeScheduleRange{
			{MinPriceInCents: 0, CompanyFeeInCents: 100},
		}},
	}
	c := NewFeeSchedules(src, nil, time.Minute)

	var wg sync.WaitGroup
	results := make([]*models.FeeSchedule, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fs, err := c.GetFeeSchedule(context.Background(), id)
			assert.NoError(t, err)
			results[i] = fs
		}(i)
	}

	require.Eventually(t, func() bool { return src.calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(src.release)
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
	for _, fs := range results {
		require.NotNil(t, fs)
		assert.Equal(t, id, fs.ID)
	}
}

func TestFeeSchedulesLoadSurvivesCancelledCaller(t *testing.T) {
	id := uuid.New()
	src := &slowSource{release: make(chan struct{}), schedule: &models.FeeSchedule{ID: id}}
	c := NewFeeSchedules(src, nil, time.Minute)

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.GetFeeSchedule(leaderCtx, id)
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)

	follower := make(chan *models.FeeSchedule, 1)
	go func() {
		fs, err := c.GetFeeSchedule(context.Background(), id)
		assert.NoError(t, err)
		follower <- fs
	}()

	cancel()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	time.Sleep(20 * time.Millisecond)
	close(src.release)
	select {
	case fs := <-follower:
		require.NotNil(t, fs)
		assert.Equal(t, id, fs.ID)
	case <-time.After(time.Second):
		t.Fatal("follower never got the schedule")
	}
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestFeeSchedulesReturnsPrivateCopies(t *testing.T) {
	id := uuid.New()
	src := &slowSource{release: make(chan struct{}), schedule: &models.FeeSchedule{ID: id, Ranges: []models.FeeScheduleRange{
		{MinPriceInCents: 0}, {MinPriceInCents: 500},
	}}}
	close(src.release)
	c := NewFeeSchedules(src, nil, time.Minute)

	first, err := c.GetFeeSchedule(context.Background(), id)
	require.NoError(t, err)
	first.Ranges[0].MinPriceInCents = 999

	second, err := c.GetFeeSchedule(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), second.Ranges[0].MinPriceInCents)
}

func TestFeeSchedulesMissingSchedule(t *testing.T) {
	src := &slowSource{release: make(chan struct{})}
	close(src.release)
	c := NewFeeSchedules(src, nil, time.Minute)

	fs, err := c.GetFeeSchedule(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, fs)
}
