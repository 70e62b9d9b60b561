package factory

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	common "github.com/example/sendinblue-relay/internal/adapters/common"
	"github.com/example/sendinblue-relay/internal/config"
	"github.com/example/sendinblue-relay/internal/models"
	emailprovider "github.com/example/sendinblue-relay/internal/providers/email"
	"github.com/example/sendinblue-relay/internal/providers/sendinblue"
	"github.com/example/sendinblue-relay/internal/util"
)

// Transport constructs the configured ESP transport, HTTP or mock.
func Transport(cfg config.SendinblueConfig, timeouts config.TimeoutConfig, logger zerolog.Logger) (emailprovider.Transport, error) {
	backend := normalize(cfg.Transport, config.TransportHTTP)
	switch backend {
	case config.TransportHTTP:
		timeout := time.Duration(timeouts.ProviderTimeoutSeconds) * time.Second
		transport := emailprovider.NewHTTPTransport(logger, emailprovider.WithHTTPTimeout(timeout))
		logger.Info().
			Str("backend", "http").
			Dur("timeout", timeout).
			Msg("email transport initialised")
		return transport, nil
	case config.TransportMock:
		transport := emailprovider.NewMockTransport(logger)
		logger.Info().
			Str("backend", "mock").
			Msg("email transport initialised")
		return transport, nil
	default:
		return nil, fmt.Errorf("factory: unsupported email transport %q", cfg.Transport)
	}
}

// FeatureSink picks the unsupported feature policy: log and continue when
// ignoring is enabled, reject otherwise.
func FeatureSink(cfg config.SendinblueConfig, logger zerolog.Logger) common.FeatureSink {
	if cfg.IgnoreUnsupportedFeatures {
		return common.NewLogSink(logger)
	}
	return common.StrictSink{}
}

// Sendinblue wires transport, defaults and feature policy into a backend.
// opts are applied after the configured policy and may replace it.
func Sendinblue(cfg config.SendinblueConfig, timeouts config.TimeoutConfig, logger zerolog.Logger, opts ...sendinblue.Option) (*sendinblue.Backend, error) {
	transport, err := Transport(cfg, timeouts, logger)
	if err != nil {
		return nil, err
	}

	defaults, err := Defaults(cfg)
	if err != nil {
		return nil, err
	}

	apiKey := cfg.APIKey
	if apiKey == "" && normalize(cfg.Transport, config.TransportHTTP) == config.TransportMock {
		apiKey = "mock"
	}

	opts = append([]sendinblue.Option{sendinblue.WithFeatureSink(FeatureSink(cfg, logger))}, opts...)
	backend, err := sendinblue.NewBackend(sendinblue.Config{
		APIKey:   apiKey,
		APIURL:   cfg.APIURL,
		Defaults: defaults,
	}, transport, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("factory: sendinblue backend init: %w", err)
	}
	return backend, nil
}

// Defaults converts the configured defaults into send defaults. Values from
// the optional YAML file are applied first; SENDINBLUE_DEFAULT_FROM and
// SENDINBLUE_DEFAULT_TAGS override them.
func Defaults(cfg config.SendinblueConfig) (models.SendDefaults, error) {
	var d models.SendDefaults
	if cfg.DefaultsFile != "" {
		df, err := config.LoadDefaultsFile(cfg.DefaultsFile)
		if err != nil {
			return d, fmt.Errorf("factory: %w", err)
		}
		if df.From != "" {
			if d.From, err = util.ParseAddress(df.From); err != nil {
				return d, fmt.Errorf("factory: defaults file from: %w", err)
			}
		}
		d.Tags = df.Tags
		d.Headers = df.Headers
		d.TemplateID = df.TemplateID
		d.MergeGlobalData = df.MergeGlobalData
		d.ESPExtra = df.ESPExtra
	}

	if cfg.DefaultFrom != "" {
		from, err := util.ParseAddress(cfg.DefaultFrom)
		if err != nil {
			return d, fmt.Errorf("factory: default from: %w", err)
		}
		d.From = from
	}
	if len(cfg.DefaultTags) > 0 {
		d.Tags = append([]string(nil), cfg.DefaultTags...)
	}
	return d, nil
}

func normalize(value, def string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return def
	}
	return value
}
