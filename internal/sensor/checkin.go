package sensor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mycoool/boneagent/internal/bone"
	"github.com/mycoool/boneagent/internal/database"
	"github.com/mycoool/boneagent/internal/eventbus"
	"github.com/mycoool/boneagent/internal/license"
)

const (
	// EventDDNSUpdated is published when ddns or the public IP changed.
	EventDDNSUpdated = "DDNS:Updated"
	// DefaultConsumer is the process that acts on DDNS updates.
	DefaultConsumer = "FireApi"
)

// NetworkState is the last ddns / public IP handed out by the cloud.
type NetworkState struct {
	DDNS      any       `json:"ddns"`
	PublicIP  any       `json:"publicIp"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Network returns the in-memory network state.
func (s *BoneSensor) Network() NetworkState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.network
}

// CheckIn runs one check-in cycle. A missing license is logged and the
// check-in goes ahead without one; any other failure aborts the cycle.
func (s *BoneSensor) CheckIn(ctx context.Context) error {
	lic, err := s.deps.License.License()
	if err != nil {
		if errors.Is(err, license.ErrNoLicense) {
			s.log.Error("license file is required")
		} else {
			s.log.WithError(err).Error("failed to load license")
		}
	}

	info, err := s.deps.SysInfo.Collect(ctx)
	if err != nil {
		return fmt.Errorf("collect system info: %w", err)
	}

	s.log.Info("checking in cloud...")
	data, err := s.deps.Cloud.CheckIn(ctx, bone.CheckInRequest{
		Config:  s.cfg.Agent,
		License: lic.Raw,
		SysInfo: info,
	})
	if err != nil {
		return fmt.Errorf("check in: %w", err)
	}

	blob, err := marshalJSON(data)
	if err != nil {
		return fmt.Errorf("encode check-in result: %w", err)
	}
	s.log.WithField("response", string(blob)).Info("cloud checked in successfully")

	if err := s.deps.Store.Set(ctx, database.KeyBoneInfo, string(blob)); err != nil {
		return err
	}

	ddnsChanged, err := s.syncNetworkField(ctx, database.FieldDDNS, data.DDNS())
	if err != nil {
		return err
	}
	ipChanged, err := s.syncNetworkField(ctx, database.FieldPublicIP, data.PublicIP())
	if err != nil {
		return err
	}

	s.mu.Lock()
	if bone.Truthy(data.DDNS()) {
		s.network.DDNS = data.DDNS()
	}
	if bone.Truthy(data.PublicIP()) {
		s.network.PublicIP = data.PublicIP()
	}
	s.network.UpdatedAt = time.Now()
	s.mu.Unlock()

	if ddnsChanged || ipChanged {
		s.deps.Events.Publish(eventbus.Event{
			Type:      EventDDNSUpdated,
			ToProcess: s.cfg.Consumer,
			Message:   "DDNS is updated",
			Payload: map[string]any{
				"ddns":     data.DDNS(),
				"publicIp": data.PublicIP(),
			},
		})
	}
	return nil
}

// syncNetworkField stores value in the network hash when it is set and
// reports whether it differs from what was stored before. Values are kept
// JSON encoded so older readers keep working.
func (s *BoneSensor) syncNetworkField(ctx context.Context, field string, value any) (bool, error) {
	existing, found, err := s.deps.Store.HGet(ctx, database.KeyNetworkInfo, field)
	if err != nil {
		return false, err
	}

	encoded, present, err := encodeValue(value)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", field, err)
	}
	if bone.Truthy(value) {
		if err := s.deps.Store.HSet(ctx, database.KeyNetworkInfo, field, encoded); err != nil {
			return false, err
		}
	}

	return found != present || existing != encoded, nil
}

// encodeValue JSON encodes v; present is false for a missing value.
func encodeValue(v any) (string, bool, error) {
	if v == nil {
		return "", false, nil
	}
	b, err := marshalJSON(v)
	if err != nil {
		return "", false, err
	}
	return string(b), true, nil
}

// marshalJSON encodes like json.Marshal but leaves &, < and > as they are,
// matching what other readers of the store already hold.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
