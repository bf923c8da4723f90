package sensor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/mycoool/boneagent/internal/bone"
	"github.com/mycoool/boneagent/internal/database"
)

// ServiceConfigKeys are the only service config entries mirrored into the store.
var ServiceConfigKeys = []string{"adblock.dns", "family.dns"}

// LoadServiceConfig fetches the service config from the cloud and stores the
// allow-listed entries under the service config hash.
func (s *BoneSensor) LoadServiceConfig(ctx context.Context) error {
	s.log.Info("loading service config from cloud...")

	config, err := s.deps.Cloud.ServiceConfig(ctx)
	if errors.Is(err, bone.ErrNoData) {
		s.log.Info("no service config from cloud")
		return nil
	}
	if err != nil {
		s.log.WithError(err).Error("failed to load service config from cloud")
		return err
	}

	values, err := stringifyValues(FlattenConfig(config))
	if err != nil {
		s.log.WithError(err).Error("failed to flatten service config")
		return err
	}
	if len(values) == 0 {
		s.log.Info("service config has no known entries")
		return nil
	}

	if err := s.deps.Store.HMSet(ctx, database.KeyServiceConfig, values); err != nil {
		s.log.WithError(err).Error("failed to store service config")
		return err
	}
	s.log.WithField("keys", len(values)).Info("service config is updated")
	return nil
}

// FlattenConfig makes config storable in a flat hash: only allow-listed keys
// with a set value are kept, objects and arrays become JSON strings and
// scalars pass through unchanged.
func FlattenConfig(config map[string]any) map[string]any {
	out := make(map[string]any)
	for _, key := range ServiceConfigKeys {
		v, ok := config[key]
		if !ok || !bone.Truthy(v) {
			continue
		}
		switch v.(type) {
		case map[string]any, []any:
			b, err := marshalJSON(v)
			if err != nil {
				continue
			}
			out[key] = string(b)
		default:
			out[key] = v
		}
	}
	return out
}

func stringifyValues(flat map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(flat))
	for k, v := range flat {
		switch t := v.(type) {
		case string:
			out[k] = t
		case json.Number:
			out[k] = t.String()
		case bool:
			out[k] = strconv.FormatBool(t)
		case float64:
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		default:
			b, err := marshalJSON(t)
			if err != nil {
				return nil, fmt.Errorf("encode %s: %w", k, err)
			}
			out[k] = string(b)
		}
	}
	return out, nil
}
