package logging

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Setter mutates the root logger.
type Setter func(*logrus.Logger) error

var root = struct {
	logger *logrus.Logger
	mutex  *sync.Mutex
}{
	logger: logrus.New(),
	mutex:  &sync.Mutex{},
}

// Logger is the logging surface handed to components.
type Logger interface {
	logrus.FieldLogger
}

// New returns a logger tagged with the component name.
func New(component string, setters ...Setter) Logger {
	for _, setter := range setters {
		// no errors handling for now
		_ = Set(setter)
	}
	return root.logger.WithField("component", component)
}

func Set(setter Setter) error {
	root.mutex.Lock()
	err := setter(root.logger)
	root.mutex.Unlock()
	return err
}

func Level(lvl string) Setter {
	l, err := logrus.ParseLevel(lvl)
	if err != nil {
		root.logger.WithError(err).Errorf("unable to parse provided level %q", lvl)
		l = logrus.InfoLevel
	}
	return func(r *logrus.Logger) error {
		r.SetLevel(l)
		return nil
	}
}

// Output redirects the root logger, e.g. to a log file.
func Output(w io.Writer) Setter {
	return func(r *logrus.Logger) error {
		r.SetOutput(w)
		return nil
	}
}

// JSON switches the root logger to JSON lines.
func JSON() Setter {
	return func(r *logrus.Logger) error {
		r.SetFormatter(&logrus.JSONFormatter{})
		return nil
	}
}
