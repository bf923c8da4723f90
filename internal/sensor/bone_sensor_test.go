package sensor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mycoool/boneagent/internal/bone"
	"github.com/mycoool/boneagent/internal/license"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	s := New(Config{}, Deps{}, nil)
	assert.Equal(t, time.Hour, s.cfg.Interval)
	assert.Equal(t, 5*time.Second, s.cfg.StartupDelay)
	assert.Equal(t, DefaultConsumer, s.cfg.Consumer)
}

func TestRun_StartupThenInterval(t *testing.T) {
	cloud := &fakeCloud{result: bone.CheckInResult{}}
	s := New(Config{StartupDelay: 10 * time.Millisecond, Interval: 40 * time.Millisecond}, Deps{
		Store:   newMemStore(),
		Cloud:   cloud,
		License: fakeLicense{lic: license.Parse("LIC")},
		SysInfo: fakeSysInfo{},
		Events:  &recorder{},
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool { return cloud.calls() >= 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return cloud.calls() >= 3 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_FailingCheckInDoesNotStopSchedule(t *testing.T) {
	cloud := &fakeCloud{err: errors.New("boom")}
	s := New(Config{StartupDelay: time.Millisecond, Interval: 20 * time.Millisecond}, Deps{
		Store:   newMemStore(),
		Cloud:   cloud,
		License: fakeLicense{err: license.ErrNoLicense},
		SysInfo: fakeSysInfo{},
		Events:  &recorder{},
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	assert.Eventually(t, func() bool { return cloud.calls() >= 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestScheduledJob_SkipsWhenCloudNotReady(t *testing.T) {
	cloud := &fakeCloud{readyErr: context.Canceled}
	s := newTestSensor(newMemStore(), cloud, fakeLicense{}, &recorder{})

	s.scheduledJob(context.Background())
	assert.Zero(t, cloud.calls())
}
