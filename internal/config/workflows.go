package config

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v2"
)

// WorkflowOverride adjusts one registered workflow from the optional
// workflows.yaml overlay: start paused, change the interval, or replace the
// cron expression.
type WorkflowOverride struct {
	Name            string `yaml:"name"`
	Paused          bool   `yaml:"paused"`
	IntervalSeconds int    `yaml:"interval_seconds"`
	Cron            string `yaml:"cron"`
}

// WorkflowFile is the parsed overlay.
type WorkflowFile struct {
	Workflows []WorkflowOverride `yaml:"workflows"`
}

// LoadWorkflowFile reads the overlay. A missing file is not an error; the
// runner keeps its built-in registrations.
func LoadWorkflowFile(path string) (*WorkflowFile, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &WorkflowFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var file WorkflowFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &file, nil
}

// Override returns the entry for a workflow name, if any.
func (f *WorkflowFile) Override(name string) (WorkflowOverride, bool) {
	for _, o := range f.Workflows {
		if o.Name == name {
			return o, true
		}
	}
	return WorkflowOverride{}, false
}
