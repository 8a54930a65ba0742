package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for a probe run.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	// Model-spec file (YAML/JSON/TOML, or a previous ledger/working subset).
	ModelsFile string `json:"models_file" yaml:"models_file" toml:"models_file"`

	// Container launch
	Image             string   `json:"image" yaml:"image" toml:"image"`
	PullImage         bool     `json:"pull_image" yaml:"pull_image" toml:"pull_image"`
	DockerHost        string   `json:"docker_host" yaml:"docker_host" toml:"docker_host"`
	CacheDir          string   `json:"cache_dir" yaml:"cache_dir" toml:"cache_dir"`
	ContainerCacheDir string   `json:"container_cache_dir" yaml:"container_cache_dir" toml:"container_cache_dir"`
	ContainerPort     int      `json:"container_port" yaml:"container_port" toml:"container_port"`
	ShmSizeMB         int      `json:"shm_size_mb" yaml:"shm_size_mb" toml:"shm_size_mb"`
	NamePrefix        string   `json:"name_prefix" yaml:"name_prefix" toml:"name_prefix"`
	Env               []string `json:"env" yaml:"env" toml:"env"`
	StopGraceSeconds  int      `json:"stop_grace_seconds" yaml:"stop_grace_seconds" toml:"stop_grace_seconds"`
	NoGPU             bool     `json:"no_gpu" yaml:"no_gpu" toml:"no_gpu"`

	// Readiness and verification
	Host                    string `json:"host" yaml:"host" toml:"host"`
	ReadyTimeoutSeconds     int    `json:"ready_timeout_seconds" yaml:"ready_timeout_seconds" toml:"ready_timeout_seconds"`
	PollIntervalSeconds     int    `json:"poll_interval_seconds" yaml:"poll_interval_seconds" toml:"poll_interval_seconds"`
	LogCheckIntervalSeconds int    `json:"log_check_interval_seconds" yaml:"log_check_interval_seconds" toml:"log_check_interval_seconds"`
	LogTailLines            int    `json:"log_tail_lines" yaml:"log_tail_lines" toml:"log_tail_lines"`
	VerifyTimeoutSeconds    int    `json:"verify_timeout_seconds" yaml:"verify_timeout_seconds" toml:"verify_timeout_seconds"`
	VerifyMaxTokens         int    `json:"verify_max_tokens" yaml:"verify_max_tokens" toml:"verify_max_tokens"`
	VerifyPrompt            string `json:"verify_prompt" yaml:"verify_prompt" toml:"verify_prompt"`
	CooldownSeconds         int    `json:"cooldown_seconds" yaml:"cooldown_seconds" toml:"cooldown_seconds"`

	// Resource monitor
	NvidiaSMI              string `json:"nvidia_smi" yaml:"nvidia_smi" toml:"nvidia_smi"`
	GPUIndex               int    `json:"gpu_index" yaml:"gpu_index" toml:"gpu_index"`
	GPUQueryTimeoutSeconds int    `json:"gpu_query_timeout_seconds" yaml:"gpu_query_timeout_seconds" toml:"gpu_query_timeout_seconds"`

	// Compatibility registry: "file" (default) or "redis"
	RegistryBackend string `json:"registry_backend" yaml:"registry_backend" toml:"registry_backend"`
	RegistryPath    string `json:"registry_path" yaml:"registry_path" toml:"registry_path"`
	RedisAddr       string `json:"redis_addr" yaml:"redis_addr" toml:"redis_addr"`
	RedisPassword   string `json:"redis_password" yaml:"redis_password" toml:"redis_password"`
	RedisDB         int    `json:"redis_db" yaml:"redis_db" toml:"redis_db"`
	RedisKey        string `json:"redis_key" yaml:"redis_key" toml:"redis_key"`

	// Outputs
	LedgerPath      string `json:"ledger_path" yaml:"ledger_path" toml:"ledger_path"`
	WorkingPath     string `json:"working_path" yaml:"working_path" toml:"working_path"`
	MetricsTextfile string `json:"metrics_textfile" yaml:"metrics_textfile" toml:"metrics_textfile"`

	// Status server (empty Listen disables it)
	Listen      string   `json:"listen" yaml:"listen" toml:"listen"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`

	// Seconds to keep serving after the run finishes.
	LingerSeconds int `json:"linger_seconds" yaml:"linger_seconds" toml:"linger_seconds"`

	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if err := decodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// decodeFile unmarshals path into v using the format implied by its extension.
func decodeFile(path string, v any) error {
	if path == "" {
		return fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, v); err != nil {
			return err
		}
	case ".json":
		if err := json.Unmarshal(b, v); err != nil {
			return err
		}
	case ".toml":
		if err := toml.Unmarshal(b, v); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported config extension: %s", ext)
	}
	return nil
}
