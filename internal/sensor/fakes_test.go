package sensor

import (
	"context"
	"sync"

	"github.com/mycoool/boneagent/internal/bone"
	"github.com/mycoool/boneagent/internal/eventbus"
	"github.com/mycoool/boneagent/internal/license"
	"github.com/mycoool/boneagent/internal/logging"
	"github.com/mycoool/boneagent/internal/sysinfo"
)

type memStore struct {
	mu      sync.Mutex
	strings map[string]string
	hashes  map[string]map[string]string
	setErr  error
	hmsets  int
}

func newMemStore() *memStore {
	return &memStore{strings: map[string]string{}, hashes: map[string]map[string]string{}}
}

func (m *memStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.strings[key] = value
	return nil
}

func (m *memStore) HGet(_ context.Context, key, field string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.hashes[key][field]
	return v, ok, nil
}

func (m *memStore) HSet(_ context.Context, key, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	if m.hashes[key] == nil {
		m.hashes[key] = map[string]string{}
	}
	m.hashes[key][field] = value
	return nil
}

func (m *memStore) HMSet(_ context.Context, key string, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.hmsets++
	if m.hashes[key] == nil {
		m.hashes[key] = map[string]string{}
	}
	for k, v := range values {
		m.hashes[key][k] = v
	}
	return nil
}

func (m *memStore) hash(key string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]string{}
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out
}

type fakeCloud struct {
	mu        sync.Mutex
	result    bone.CheckInResult
	respond   func(call int) bone.CheckInResult
	err       error
	readyErr  error
	config    map[string]any
	configErr error
	requests  []bone.CheckInRequest
}

func (f *fakeCloud) WaitReady(context.Context) error { return f.readyErr }

func (f *fakeCloud) CheckIn(_ context.Context, in bone.CheckInRequest) (bone.CheckInResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, in)
	if f.err != nil {
		return nil, f.err
	}
	if f.respond != nil {
		return f.respond(len(f.requests)), nil
	}
	return f.result, nil
}

func (f *fakeCloud) ServiceConfig(context.Context) (map[string]any, error) {
	return f.config, f.configErr
}

func (f *fakeCloud) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeLicense struct {
	lic license.License
	err error
}

func (f fakeLicense) License() (license.License, error) { return f.lic, f.err }

type fakeSysInfo struct{}

func (fakeSysInfo) Collect(context.Context) (sysinfo.Info, error) {
	return sysinfo.Info{Hostname: "box", OS: "linux"}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (r *recorder) Publish(ev eventbus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []eventbus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]eventbus.Event(nil), r.events...)
}

func newTestSensor(store Store, cloud *fakeCloud, lic LicenseSource, events Publisher) *BoneSensor {
	return newTestSensorWithLog(store, cloud, lic, events, nil)
}

func newTestSensorWithLog(store Store, cloud *fakeCloud, lic LicenseSource, events Publisher, log logging.Logger) *BoneSensor {
	return New(Config{Agent: map[string]string{"version": "test"}}, Deps{
		Store:   store,
		Cloud:   cloud,
		License: lic,
		SysInfo: fakeSysInfo{},
		Events:  events,
	}, log)
}
