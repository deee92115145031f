package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockLicenses struct {
	mock.Mock
}

func (m *MockLicenses) ResetMonthlyUsage(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLicenses) ExpireOverdueLicenses(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type countingPurger struct {
	calls atomic.Int32
}

func (p *countingPurger) PurgeExpiredSessions(context.Context) (int64, error) {
	p.calls.Add(1)
	return 0, nil
}

func TestRunOnce_ContinuesAfterFailure(t *testing.T) {
	licenses := new(MockLicenses)
	licenses.On("ResetMonthlyUsage", mock.Anything).Return(int64(0), errors.New("db down"))
	licenses.On("ExpireOverdueLicenses", mock.Anything).Return(int64(3), nil)
	sessions := &countingPurger{}

	NewMaintenance(licenses, sessions, time.Hour).RunOnce(context.Background())

	licenses.AssertExpectations(t)
	assert.EqualValues(t, 1, sessions.calls.Load())
}

func TestStart_RunsImmediatelyAndStopsWithContext(t *testing.T) {
	licenses := new(MockLicenses)
	licenses.On("ResetMonthlyUsage", mock.Anything).Return(int64(0), nil)
	licenses.On("ExpireOverdueLicenses", mock.Anything).Return(int64(0), nil)
	sessions := &countingPurger{}

	ctx, cancel := context.WithCancel(context.Background())
	done := NewMaintenance(licenses, sessions, 10*time.Millisecond).Start(ctx)

	require.Eventually(t, func() bool { return sessions.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("maintenance loop did not stop")
	}
}
