package gpu

import (
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/openfluke/webgpu/wgpu"
)

// Context holds the single WebGPU context for the application
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	once     sync.Once
	err      error
}

var ctx Context

// GetContext returns the singleton GPU context, initializing it if necessary.
// The logger is only used by the call that performs initialization.
func GetContext(logger logr.Logger) (*Context, error) {
	ctx.once.Do(func() {
		ctx.err = ctx.init(logger)
	})
	if ctx.err != nil {
		return nil, ctx.err
	}
	if ctx.Device == nil || ctx.Queue == nil {
		return nil, fmt.Errorf("WebGPU device or queue not initialized")
	}
	return &ctx, nil
}

func (c *Context) init(logger logr.Logger) error {
	c.Instance = wgpu.CreateInstance(nil)
	if c.Instance == nil {
		return fmt.Errorf("failed to create WebGPU instance")
	}

	for _, a := range c.Instance.EnumerateAdapters(nil) {
		info := a.GetInfo()
		logger.V(1).Info("found adapter", "name", info.Name, "vendor", info.VendorName,
			"deviceID", fmt.Sprintf("0x%X", info.DeviceId), "type", info.AdapterType.String())
	}

	// High performance first, then low power, then whatever the platform offers.
	var err error
	for _, opts := range []*wgpu.RequestAdapterOptions{
		{PowerPreference: wgpu.PowerPreferenceHighPerformance},
		{PowerPreference: wgpu.PowerPreferenceLowPower},
		nil,
	} {
		c.Adapter, err = c.Instance.RequestAdapter(opts)
		if err == nil && c.Adapter != nil {
			break
		}
		logger.V(1).Info("adapter request failed, falling back", "error", err)
	}
	if c.Adapter == nil {
		return fmt.Errorf("all adapter attempts failed: %v", err)
	}

	info := c.Adapter.GetInfo()
	logger.Info("using GPU adapter", "name", info.Name, "vendor", info.VendorName,
		"backend", info.BackendType.String())

	c.Device, err = c.Adapter.RequestDevice(nil)
	if err != nil {
		return fmt.Errorf("request device: %w", err)
	}
	c.Queue = c.Device.GetQueue()
	return nil
}
