package config

import (
	"os"
	"time"

	"modelprobe/internal/common/fsutil"
)

const (
	DefaultImage             = "vllm/vllm-openai:latest"
	DefaultCacheDir          = "~/.cache/huggingface"
	DefaultContainerCacheDir = "/root/.cache/huggingface"
	DefaultContainerPort     = 8000
	DefaultShmSizeMB         = 16 * 1024
	DefaultNamePrefix        = "modelprobe-"
	DefaultStopGraceSeconds  = 10

	DefaultHost                    = "localhost"
	DefaultReadyTimeoutSeconds     = 600
	DefaultPollIntervalSeconds     = 10
	DefaultLogCheckIntervalSeconds = 30
	DefaultLogTailLines            = 200
	DefaultVerifyTimeoutSeconds    = 30
	DefaultVerifyMaxTokens         = 16
	DefaultVerifyPrompt            = "Reply with the single word: ready."
	DefaultCooldownSeconds         = 5

	DefaultNvidiaSMI              = "nvidia-smi"
	DefaultGPUQueryTimeoutSeconds = 5

	DefaultRegistryBackend = "file"
	DefaultRegistryPath    = "model_compatibility.json"
	DefaultRedisKey        = "modelprobe:registry"
	DefaultLedgerPath      = "model_test_results.json"
	DefaultWorkingPath     = "working_models.json"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
)

// Defaults returns a Config with every field set to its default.
func Defaults() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills unset fields. DOCKER_HOST is honoured when DockerHost is empty.
func (c *Config) ApplyDefaults() {
	setStr := func(p *string, def string) {
		if *p == "" {
			*p = def
		}
	}
	setInt := func(p *int, def int) {
		if *p <= 0 {
			*p = def
		}
	}
	setStr(&c.Image, DefaultImage)
	setStr(&c.DockerHost, os.Getenv("DOCKER_HOST"))
	setStr(&c.CacheDir, DefaultCacheDir)
	setStr(&c.ContainerCacheDir, DefaultContainerCacheDir)
	setInt(&c.ContainerPort, DefaultContainerPort)
	setInt(&c.ShmSizeMB, DefaultShmSizeMB)
	setStr(&c.NamePrefix, DefaultNamePrefix)
	setInt(&c.StopGraceSeconds, DefaultStopGraceSeconds)

	setStr(&c.Host, DefaultHost)
	setInt(&c.ReadyTimeoutSeconds, DefaultReadyTimeoutSeconds)
	setInt(&c.PollIntervalSeconds, DefaultPollIntervalSeconds)
	setInt(&c.LogCheckIntervalSeconds, DefaultLogCheckIntervalSeconds)
	setInt(&c.LogTailLines, DefaultLogTailLines)
	setInt(&c.VerifyTimeoutSeconds, DefaultVerifyTimeoutSeconds)
	setInt(&c.VerifyMaxTokens, DefaultVerifyMaxTokens)
	setStr(&c.VerifyPrompt, DefaultVerifyPrompt)
	// 0 means unset and takes the default; a negative value disables the pause.
	if c.CooldownSeconds < 0 {
		c.CooldownSeconds = 0
	} else if c.CooldownSeconds == 0 {
		c.CooldownSeconds = DefaultCooldownSeconds
	}

	setStr(&c.NvidiaSMI, DefaultNvidiaSMI)
	setInt(&c.GPUQueryTimeoutSeconds, DefaultGPUQueryTimeoutSeconds)

	setStr(&c.RegistryBackend, DefaultRegistryBackend)
	setStr(&c.RegistryPath, DefaultRegistryPath)
	setStr(&c.RedisKey, DefaultRedisKey)
	setStr(&c.LedgerPath, DefaultLedgerPath)
	setStr(&c.WorkingPath, DefaultWorkingPath)

	setStr(&c.LogLevel, DefaultLogLevel)
	setStr(&c.LogFormat, DefaultLogFormat)
}

// ResolvedCacheDir returns CacheDir with a leading '~' expanded.
func (c Config) ResolvedCacheDir() (string, error) {
	return fsutil.ExpandHome(c.CacheDir)
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (c Config) ReadyTimeout() time.Duration     { return seconds(c.ReadyTimeoutSeconds) }
func (c Config) PollInterval() time.Duration     { return seconds(c.PollIntervalSeconds) }
func (c Config) LogCheckInterval() time.Duration { return seconds(c.LogCheckIntervalSeconds) }
func (c Config) VerifyTimeout() time.Duration    { return seconds(c.VerifyTimeoutSeconds) }
func (c Config) Cooldown() time.Duration         { return seconds(c.CooldownSeconds) }
func (c Config) StopGrace() time.Duration        { return seconds(c.StopGraceSeconds) }
func (c Config) GPUQueryTimeout() time.Duration  { return seconds(c.GPUQueryTimeoutSeconds) }
func (c Config) Linger() time.Duration           { return seconds(c.LingerSeconds) }
