package license

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mycoool/boneagent/internal/logging"
)

// ErrNoLicense is returned when the license file is missing or empty.
var ErrNoLicense = errors.New("license not found")

// Claims are the fields the agent reads out of a JWT formatted license.
type Claims struct {
	UUID     string `json:"uuid,omitempty"`
	Licensee string `json:"licensee,omitempty"`
	jwt.RegisteredClaims
}

// License is the opaque license string as sent to the cloud. Claims is set
// when the string is a JWT; the signature is checked by the cloud, not here.
type License struct {
	Raw    string  `json:"-"`
	Claims *Claims `json:"claims,omitempty"`
}

// Parse wraps raw and decodes its claims when possible.
func Parse(raw string) License {
	lic := License{Raw: strings.TrimSpace(raw)}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(lic.Raw, claims); err == nil {
		lic.Claims = claims
	}
	return lic
}

// Source loads the license from a file and keeps the last read value.
type Source struct {
	path string
	log  logging.Logger

	mu     sync.RWMutex
	loaded bool
	lic    License
	err    error
}

// NewSource returns a Source reading path.
func NewSource(path string, log logging.Logger) *Source {
	if log == nil {
		log = logging.New("license")
	}
	return &Source{path: path, log: log}
}

// Path is the watched license file.
func (s *Source) Path() string { return s.path }

// License returns the cached license. Until a read succeeds the file is
// read again on every call, so a license provisioned after startup is
// picked up even when no watcher runs.
func (s *Source) License() (License, error) {
	s.mu.RLock()
	loaded, lic, err := s.loaded, s.lic, s.err
	s.mu.RUnlock()
	if loaded && err == nil {
		return lic, nil
	}
	return s.Reload()
}

// Reload re-reads the license file.
func (s *Source) Reload() (License, error) {
	lic, err := readFile(s.path)

	s.mu.Lock()
	s.loaded, s.lic, s.err = true, lic, err
	s.mu.Unlock()

	if err == nil && lic.Claims != nil {
		s.log.WithField("uuid", lic.Claims.UUID).WithField("licensee", lic.Claims.Licensee).Info("license loaded")
	}
	return lic, err
}

func readFile(path string) (License, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return License{}, ErrNoLicense
	}
	if err != nil {
		return License{}, fmt.Errorf("read license file: %w", err)
	}
	lic := Parse(string(data))
	if lic.Raw == "" {
		return License{}, ErrNoLicense
	}
	return lic, nil
}
