package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ducminhle1904/trade-automation/internal/errors"
	"github.com/ducminhle1904/trade-automation/internal/scheduler"
)

type schedulesFile struct {
	Schedules []yaml.Node `yaml:"schedules"`
}

// LoadSchedules reads schedule definitions from a YAML file. A bare file name is
// looked up in configs/, and .yaml is appended when no extension is given.
// Schedules are returned unvalidated; the scheduler validates them on AddSchedule.
func LoadSchedules(path string) ([]*scheduler.ScheduleConfig, error) {
	const op = "load_schedules"
	if !strings.ContainsAny(path, "/\\") {
		path = filepath.Join("configs", path)
	}
	if filepath.Ext(path) == "" {
		path += ".yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindConfig, component, op).WithContext("path", path)
	}
	return ParseSchedules(data)
}

// ParseSchedules decodes a schedules document. Missing notification settings default
// to failures only.
func ParseSchedules(data []byte) ([]*scheduler.ScheduleConfig, error) {
	const op = "parse_schedules"

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var file schedulesFile
	if err := dec.Decode(&file); err != nil {
		return nil, errors.Wrap(err, errors.KindConfig, component, op)
	}

	out := make([]*scheduler.ScheduleConfig, 0, len(file.Schedules))
	seen := make(map[string]bool)
	for i, node := range file.Schedules {
		c := &scheduler.ScheduleConfig{Notifications: scheduler.DefaultNotificationConfig()}
		if err := node.Decode(c); err != nil {
			return nil, errors.Wrap(err, errors.KindConfig, component, op).WithContext("index", i)
		}
		if c.StrategyID == "" {
			return nil, errors.NewConfigError(component, op, fmt.Sprintf("schedule %d has no strategy_id", i))
		}
		if c.Name == "" {
			c.Name = fmt.Sprintf("%s-%s", c.Type.Kind, c.StrategyID)
		}
		if c.ID != "" {
			if seen[c.ID] {
				return nil, errors.NewConfigError(component, op, fmt.Sprintf("duplicate schedule id %q", c.ID))
			}
			seen[c.ID] = true
		}
		out = append(out, c)
	}
	return out, nil
}
