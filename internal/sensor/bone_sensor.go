package sensor

import (
	"context"
	"sync"
	"time"

	"github.com/mycoool/boneagent/internal/bone"
	"github.com/mycoool/boneagent/internal/eventbus"
	"github.com/mycoool/boneagent/internal/license"
	"github.com/mycoool/boneagent/internal/logging"
	"github.com/mycoool/boneagent/internal/sysinfo"
)

// Store is the key-value subset the sensor writes to.
type Store interface {
	Set(ctx context.Context, key, value string) error
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HSet(ctx context.Context, key, field, value string) error
	HMSet(ctx context.Context, key string, values map[string]string) error
}

// Cloud is the remote coordination service.
type Cloud interface {
	WaitReady(ctx context.Context) error
	CheckIn(ctx context.Context, in bone.CheckInRequest) (bone.CheckInResult, error)
	ServiceConfig(ctx context.Context) (map[string]any, error)
}

// LicenseSource yields the local license.
type LicenseSource interface {
	License() (license.License, error)
}

// SystemInfo collects local facts at check-in time.
type SystemInfo interface {
	Collect(ctx context.Context) (sysinfo.Info, error)
}

// Publisher delivers events to in-process subscribers.
type Publisher interface {
	Publish(ev eventbus.Event)
}

// Config controls the check-in schedule.
type Config struct {
	Interval     time.Duration
	StartupDelay time.Duration
	// Consumer tags the DDNS update event with the process meant to act on it.
	Consumer string
	// Agent is sent to the cloud as the check-in config.
	Agent any
}

// Deps are the collaborators of a BoneSensor.
type Deps struct {
	Store   Store
	Cloud   Cloud
	License LicenseSource
	SysInfo SystemInfo
	Events  Publisher
}

// BoneSensor periodically checks in with the cloud and mirrors the answer into the store.
type BoneSensor struct {
	cfg  Config
	deps Deps
	log  logging.Logger

	mu      sync.RWMutex
	network NetworkState
}

// New constructs a BoneSensor with sane defaults.
func New(cfg Config, deps Deps, log logging.Logger) *BoneSensor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.StartupDelay <= 0 {
		cfg.StartupDelay = 5 * time.Second
	}
	if cfg.Consumer == "" {
		cfg.Consumer = DefaultConsumer
	}
	if log == nil {
		log = logging.New("bone-sensor")
	}
	return &BoneSensor{cfg: cfg, deps: deps, log: log}
}

// Run checks in once after the startup delay and then on every interval
// until ctx is cancelled. Each run is its own goroutine, so a slow check-in
// does not hold back the next tick.
func (s *BoneSensor) Run(ctx context.Context) error {
	startup := time.NewTimer(s.cfg.StartupDelay)
	defer startup.Stop()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.WithField("delay", s.cfg.StartupDelay).WithField("interval", s.cfg.Interval).Info("check-in scheduled")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-startup.C:
			go s.scheduledJob(ctx)
		case <-ticker.C:
			go s.scheduledJob(ctx)
		}
	}
}

func (s *BoneSensor) scheduledJob(ctx context.Context) {
	if err := s.deps.Cloud.WaitReady(ctx); err != nil {
		s.log.WithError(err).Warn("cloud never became ready, skipping check-in")
		return
	}
	if err := s.CheckIn(ctx); err != nil {
		s.log.WithError(err).Error("failed to check in")
	}
}
