package container

import (
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/go-connections/nat"

	"modelprobe/pkg/types"
)

// Labels applied to every container the launcher creates.
const (
	LabelManaged = "modelprobe.managed"
	LabelModel   = "modelprobe.model"
)

// BackendArgs returns the serving flags for spec. The backend listens on
// internalPort inside the container.
func BackendArgs(spec types.ModelSpec, internalPort int) []string {
	args := []string{
		"--model", spec.ID,
		"--served-model-name", spec.ID,
		"--host", "0.0.0.0",
		"--port", strconv.Itoa(internalPort),
	}
	p := spec.LaunchParams
	if p.MaxModelLen > 0 {
		args = append(args, "--max-model-len", strconv.Itoa(p.MaxModelLen))
	}
	if p.GPUMemoryUtilization > 0 {
		args = append(args, "--gpu-memory-utilization", strconv.FormatFloat(p.GPUMemoryUtilization, 'f', -1, 64))
	}
	if p.EnforceEager {
		args = append(args, "--enforce-eager")
	}
	if p.TrustRemoteCode {
		args = append(args, "--trust-remote-code")
	}
	return append(args, p.ExtraArgs...)
}

// buildConfigs assembles the create request for spec.
func (l *Launcher) buildConfigs(spec types.ModelSpec) (*container.Config, *container.HostConfig) {
	internal := nat.Port(strconv.Itoa(l.cfg.ContainerPort) + "/tcp")
	env := append([]string{"HF_HUB_OFFLINE=1", "TRANSFORMERS_OFFLINE=1"}, l.cfg.Env...)
	cfg := &container.Config{
		Image:        l.cfg.Image,
		Cmd:          BackendArgs(spec, l.cfg.ContainerPort),
		Env:          env,
		ExposedPorts: nat.PortSet{internal: struct{}{}},
		Labels: map[string]string{
			LabelManaged: "true",
			LabelModel:   spec.ID,
		},
	}
	host := &container.HostConfig{
		PortBindings: nat.PortMap{
			internal: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(spec.Port)}},
		},
		ShmSize: l.cfg.ShmSizeBytes,
	}
	if l.cfg.CacheDir != "" {
		host.Mounts = []mount.Mount{{
			Type:     mount.TypeBind,
			Source:   l.cfg.CacheDir,
			Target:   l.cfg.ContainerCacheDir,
			ReadOnly: true,
		}}
	}
	if !l.cfg.NoGPU {
		host.Resources.DeviceRequests = []container.DeviceRequest{{
			Driver:       "nvidia",
			Count:        -1,
			Capabilities: [][]string{{"gpu"}},
		}}
	}
	return cfg, host
}
