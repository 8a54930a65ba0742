package config

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"modelprobe/pkg/types"
)

// specEntry accepts both a plain model-spec entry and a ledger entry whose
// spec lives under "config". The latter lets a previous run's working subset
// be fed back as input.
type specEntry struct {
	types.ModelSpec `yaml:",inline"`
	Config          *types.ModelSpec `json:"config,omitempty" yaml:"config,omitempty" toml:"config,omitempty"`
}

type specDocument struct {
	Models map[string]specEntry `json:"models" yaml:"models" toml:"models"`
}

// ConfigError reports an invalid model-spec configuration.
type ConfigError struct{ msg string }

func (e ConfigError) Error() string { return "invalid model config: " + e.msg }

// IsConfigError reports whether err is a ConfigError.
func IsConfigError(err error) bool {
	_, ok := err.(ConfigError)
	return ok
}

func configErrorf(format string, a ...any) error {
	return ConfigError{msg: fmt.Sprintf(format, a...)}
}

// LoadSpecs reads the model-spec file, fills container names from prefix and
// validates the result. Specs are returned sorted by id for determinism.
func LoadSpecs(path, prefix string) ([]types.ModelSpec, error) {
	var doc specDocument
	if err := decodeFile(path, &doc); err != nil {
		return nil, err
	}
	if len(doc.Models) == 0 {
		return nil, configErrorf("no models in %s", path)
	}
	specs := make([]types.ModelSpec, 0, len(doc.Models))
	for id, e := range doc.Models {
		s := e.ModelSpec
		if e.Config != nil {
			s = *e.Config
		}
		s.ID = id
		st, err := types.ParseCompatStatus(string(s.KnownStatus))
		if err != nil {
			return nil, configErrorf("model %s: %v", id, err)
		}
		s.KnownStatus = st
		if s.ContainerName == "" {
			s.ContainerName = ContainerName(prefix, id)
		}
		specs = append(specs, s)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })
	if err := ValidateSpecs(specs); err != nil {
		return nil, err
	}
	return specs, nil
}

var nameUnsafe = regexp.MustCompile(`[^a-z0-9_.-]+`)

// ContainerName derives a Docker-safe container name for a model id.
func ContainerName(prefix, id string) string {
	n := nameUnsafe.ReplaceAllString(strings.ToLower(id), "-")
	n = strings.Trim(n, "-.")
	if n == "" {
		n = "model"
	}
	return prefix + n
}

// ValidateSpecs enforces unique ids, ports and container names.
func ValidateSpecs(specs []types.ModelSpec) error {
	ids := map[string]bool{}
	ports := map[int]string{}
	names := map[string]string{}
	for _, s := range specs {
		if strings.TrimSpace(s.ID) == "" {
			return configErrorf("model with empty id")
		}
		if ids[s.ID] {
			return configErrorf("duplicate model id %s", s.ID)
		}
		ids[s.ID] = true
		if s.Port <= 0 || s.Port > 65535 {
			return configErrorf("model %s: port %d out of range", s.ID, s.Port)
		}
		if other, ok := ports[s.Port]; ok {
			return configErrorf("models %s and %s share port %d", other, s.ID, s.Port)
		}
		ports[s.Port] = s.ID
		if s.ContainerName == "" {
			return configErrorf("model %s: empty container name", s.ID)
		}
		if other, ok := names[s.ContainerName]; ok {
			return configErrorf("models %s and %s share container name %s", other, s.ID, s.ContainerName)
		}
		names[s.ContainerName] = s.ID
		if u := s.LaunchParams.GPUMemoryUtilization; u < 0 || u > 1 {
			return configErrorf("model %s: gpu_memory_utilization %v not in [0,1]", s.ID, u)
		}
	}
	return nil
}
