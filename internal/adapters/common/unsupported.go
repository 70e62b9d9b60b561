package common

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/rs/zerolog"
)

// UnsupportedFeatureError reports a message feature the ESP cannot express.
type UnsupportedFeatureError struct {
	ESP     string
	Feature string
}

func (e *UnsupportedFeatureError) Error() string {
	return fmt.Sprintf("%s does not support %s", e.ESP, e.Feature)
}

// FeatureSink receives unsupported feature signals raised while a payload is
// built. Returning an error aborts the build; returning nil lets the backend
// continue with its documented fallback.
type FeatureSink interface {
	Unsupported(esp, feature string) error
}

// FeatureSinkFunc adapts a function to FeatureSink.
type FeatureSinkFunc func(esp, feature string) error

// Unsupported implements FeatureSink.
func (f FeatureSinkFunc) Unsupported(esp, feature string) error {
	return f(esp, feature)
}

// StrictSink turns every signal into an *UnsupportedFeatureError.
type StrictSink struct{}

// Unsupported implements FeatureSink.
func (StrictSink) Unsupported(esp, feature string) error {
	return &UnsupportedFeatureError{ESP: esp, Feature: feature}
}

// LogSink logs every signal at warn level and never aborts.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink constructs a LogSink writing to logger.
func NewLogSink(logger zerolog.Logger) *LogSink {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &LogSink{logger: logger}
}

// Unsupported implements FeatureSink.
func (s *LogSink) Unsupported(esp, feature string) error {
	s.logger.Warn().
		Str("esp", esp).
		Str("feature", feature).
		Msg("unsupported feature ignored")
	return nil
}

// CollectSink records every signal and never aborts. It is safe for
// concurrent use, although each payload normally gets its own sink.
type CollectSink struct {
	mu       sync.Mutex
	features []string
}

// Unsupported implements FeatureSink.
func (s *CollectSink) Unsupported(_ string, feature string) error {
	s.mu.Lock()
	s.features = append(s.features, feature)
	s.mu.Unlock()
	return nil
}

// Features returns the collected signals in the order they were raised.
func (s *CollectSink) Features() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.features...)
}

// Tee forwards each signal to every sink and returns the first error.
func Tee(sinks ...FeatureSink) FeatureSink {
	return FeatureSinkFunc(func(esp, feature string) error {
		var first error
		for _, s := range sinks {
			if s == nil {
				continue
			}
			if err := s.Unsupported(esp, feature); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
}
