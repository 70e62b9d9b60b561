package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/example/sendinblue-relay/internal/util"
)

// DefaultsFile holds the send defaults that do not fit in environment
// variables. It is read from SENDINBLUE_DEFAULTS_FILE.
type DefaultsFile struct {
	From            string            `yaml:"from"`
	Tags            []string          `yaml:"tags"`
	Headers         map[string]string `yaml:"headers"`
	TemplateID      string            `yaml:"template_id"`
	MergeGlobalData map[string]any    `yaml:"merge_global_data"`
	ESPExtra        map[string]any    `yaml:"esp_extra"`
}

// LoadDefaultsFile parses a YAML defaults file. Unknown keys are rejected.
func LoadDefaultsFile(path string) (*DefaultsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: defaults file: %w", err)
	}

	var df DefaultsFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&df); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: defaults file %s: %w", path, err)
	}

	if df.From != "" {
		if _, err := util.ParseAddress(df.From); err != nil {
			return nil, fmt.Errorf("config: defaults file %s: from: %w", path, err)
		}
	}
	if df.TemplateID != "" {
		if _, err := util.ValidateTemplateID(df.TemplateID); err != nil {
			return nil, fmt.Errorf("config: defaults file %s: template_id: %w", path, err)
		}
	}
	return &df, nil
}
