package gpu

import (
	"context"
	"fmt"
	"time"

	"github.com/openfluke/webgpu/wgpu"
)

// DefaultReadTimeout bounds a readback whose context has no deadline.
const DefaultReadTimeout = 2 * time.Second

const storageUsage = wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc

// buffer is a storage buffer owned by a Device.
type buffer struct {
	dev   *Device
	label string
	size  int
	buf   *wgpu.Buffer
}

func (b *buffer) Label() string { return b.label }
func (b *buffer) Size() int     { return b.size }

func (b *buffer) Destroy() {
	if b.buf == nil {
		return
	}
	b.buf.Destroy()
	b.buf = nil
	b.dev.forget()
}

// alignedSize rounds a byte size up to the copy alignment; zero-sized storage
// buffers are rounded up to one word so they can still be created.
func alignedSize(size int) uint64 {
	if size <= 0 {
		return 4
	}
	return uint64((size + 3) &^ 3)
}

// readBuffer copies size bytes of buf through a staging buffer to the host.
func readBuffer(ctx context.Context, c *Context, buf *wgpu.Buffer, size int) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}
	sizeBytes := alignedSize(size)
	stagingBuf, err := c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "ReadStaging",
		Size:  sizeBytes,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create staging buffer: %w", err)
	}
	defer stagingBuf.Destroy()

	encoder, err := c.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create command encoder: %w", err)
	}
	encoder.CopyBufferToBuffer(buf, 0, stagingBuf, 0, sizeBytes)
	cmd, err := encoder.Finish(nil)
	encoder.Release()
	if err != nil {
		return nil, fmt.Errorf("failed to finish command: %w", err)
	}
	c.Queue.Submit(cmd)
	cmd.Release()

	done := make(chan struct{})
	var mapErr error
	err = stagingBuf.MapAsync(wgpu.MapModeRead, 0, sizeBytes, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			mapErr = fmt.Errorf("map failed: %v", status)
		}
		close(done)
	})
	if err != nil {
		return nil, fmt.Errorf("MapAsync failed: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultReadTimeout)
		defer cancel()
	}
Loop:
	for {
		c.Device.Poll(false, nil)
		select {
		case <-done:
			break Loop
		case <-ctx.Done():
			return nil, fmt.Errorf("read back: %w", ctx.Err())
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if mapErr != nil {
		return nil, mapErr
	}

	data := stagingBuf.GetMappedRange(0, uint(sizeBytes))
	if data == nil {
		return nil, fmt.Errorf("failed to get mapped range")
	}
	out := make([]byte, size)
	copy(out, data)
	stagingBuf.Unmap()
	return out, nil
}
