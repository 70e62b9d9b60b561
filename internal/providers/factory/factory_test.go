package factory_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	common "github.com/example/sendinblue-relay/internal/adapters/common"
	"github.com/example/sendinblue-relay/internal/config"
	emailprovider "github.com/example/sendinblue-relay/internal/providers/email"
	"github.com/example/sendinblue-relay/internal/providers/factory"
)

func TestTransportSelection(t *testing.T) {
	timeouts := config.TimeoutConfig{ProviderTimeoutSeconds: 5}

	tr, err := factory.Transport(config.SendinblueConfig{Transport: "mock"}, timeouts, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := tr.(*emailprovider.MockTransport); !ok {
		t.Fatalf("expected mock transport, got %T", tr)
	}

	tr, err = factory.Transport(config.SendinblueConfig{}, timeouts, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := tr.(*emailprovider.HTTPTransport); !ok {
		t.Fatalf("expected http transport by default, got %T", tr)
	}

	if _, err := factory.Transport(config.SendinblueConfig{Transport: "smtp"}, timeouts, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for unknown transport")
	}
}

func TestFeatureSinkPolicy(t *testing.T) {
	if _, ok := factory.FeatureSink(config.SendinblueConfig{}, zerolog.Nop()).(common.StrictSink); !ok {
		t.Fatalf("expected strict sink by default")
	}
	sink := factory.FeatureSink(config.SendinblueConfig{IgnoreUnsupportedFeatures: true}, zerolog.Nop())
	if _, ok := sink.(*common.LogSink); !ok {
		t.Fatalf("expected log sink when ignoring, got %T", sink)
	}
}

func TestSendinblueBackend(t *testing.T) {
	backend, err := factory.Sendinblue(config.SendinblueConfig{
		Transport:   "mock",
		APIURL:      "https://api.sendinblue.com/v3",
		DefaultFrom: "Shop <shop@example.com>",
	}, config.TimeoutConfig{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backend.APIURL() != "https://api.sendinblue.com/v3/" {
		t.Fatalf("expected trailing slash, got %s", backend.APIURL())
	}

	if _, err := factory.Sendinblue(config.SendinblueConfig{Transport: "http"}, config.TimeoutConfig{}, zerolog.Nop()); err == nil {
		t.Fatalf("expected error without api key")
	}
}

func TestDefaults(t *testing.T) {
	d, err := factory.Defaults(config.SendinblueConfig{
		DefaultFrom: `"Shop" <shop@example.com>`,
		DefaultTags: []string{"relay"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.From.AddrSpec != "shop@example.com" || d.From.DisplayName != "Shop" {
		t.Fatalf("unexpected from %+v", d.From)
	}
	if len(d.Tags) != 1 || d.Tags[0] != "relay" {
		t.Fatalf("unexpected tags %v", d.Tags)
	}
}

func TestDefaultsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defaults.yaml")
	content := `from: Newsletter <news@example.com>
tags: [newsletter]
headers:
  X-Campaign: autumn
merge_global_data:
  company: Example
esp_extra:
  params:
    locale: en
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write defaults file: %v", err)
	}

	d, err := factory.Defaults(config.SendinblueConfig{
		DefaultsFile: path,
		DefaultFrom:  "shop@example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.From.AddrSpec != "shop@example.com" {
		t.Fatalf("expected env from to override the file, got %+v", d.From)
	}
	if len(d.Tags) != 1 || d.Tags[0] != "newsletter" {
		t.Fatalf("unexpected tags %v", d.Tags)
	}
	if d.Headers["X-Campaign"] != "autumn" {
		t.Fatalf("unexpected headers %v", d.Headers)
	}
	if d.MergeGlobalData["company"] != "Example" {
		t.Fatalf("unexpected merge data %v", d.MergeGlobalData)
	}
	params, ok := d.ESPExtra["params"].(map[string]any)
	if !ok || params["locale"] != "en" {
		t.Fatalf("unexpected esp extra %v", d.ESPExtra)
	}
}

func TestDefaultsFileRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defaults.yaml")
	if err := os.WriteFile(path, []byte("form: typo@example.com\n"), 0o600); err != nil {
		t.Fatalf("write defaults file: %v", err)
	}
	if _, err := factory.Defaults(config.SendinblueConfig{DefaultsFile: path}); err == nil {
		t.Fatalf("expected error for unknown key")
	}
}
