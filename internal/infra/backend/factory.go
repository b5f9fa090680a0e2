package backend

import (
	"fmt"

	"github.com/band-engine/band/internal/domain"
)

// cpuUtil is the reference backend's domain.BackendUtil. It only claims
// CPU — band's core is a scheduling engine exercised against a reference
// backend, not a multi-accelerator kernel library (spec.md §1 Out of
// scope); tests that need GPU/DSP/NPU partitioning behavior drive the
// analyzer directly against a domain.ModelSpec instead of through a real
// backend.
type cpuUtil struct{}

func (cpuUtil) SupportsDevice(d domain.DeviceFlag) bool { return d == domain.DeviceCPU }

// Factory is the reference backend's domain.BackendFactory.
type Factory struct {
	util cpuUtil
}

var _ domain.BackendFactory = (*Factory)(nil)

// NewFactory returns the reference CPU backend's factory.
func NewFactory() *Factory { return &Factory{} }

func (f *Factory) Type() domain.BackendType { return domain.BackendCPURef }

func (f *Factory) LoadModel(path string) (domain.Model, error) {
	return LoadRefModel(path)
}

func (f *Factory) NewExecutor(modelID domain.ModelID, worker domain.WorkerID, device domain.DeviceFlag, affinity domain.CPUMaskFlag, numThreads int) (domain.ModelExecutor, error) {
	if device != domain.DeviceCPU {
		return nil, fmt.Errorf("backend: %w: reference backend cannot target device %s", domain.ErrConfiguration, device)
	}
	return newCPUExecutor(modelID, worker), nil
}

func (f *Factory) Util() domain.BackendUtil { return f.util }
