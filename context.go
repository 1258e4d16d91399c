package blade

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/blade/backend"
	"github.com/gogpu/blade/gpucore"
)

// defaultWaitTimeout bounds the implicit queue waits of ReadBuffer and Close.
const defaultWaitTimeout = 5 * time.Second

// Capabilities describes the limits of a Context's device.
type Capabilities = gpucore.Capabilities

// ContextDesc configures a Context.
type ContextDesc struct {
	// Name labels the native device. Optional.
	Name string

	// Validation turns on driver validation and WGSL front-end checks at
	// shader creation. It has no process-wide side effects.
	Validation bool

	// Backend selects a registered driver by name. Empty selects the
	// registry default.
	Backend string

	// Driver, if set, is used instead of the registry.
	Driver backend.Driver

	// Logger receives the Context's and its driver's records. Nil uses
	// the logger set by SetLogger.
	Logger *slog.Logger
}

// queue is the command queue shared by a Context and its encoders.
type queue struct {
	mu     sync.Mutex
	raw    gpucore.Queue
	closed bool
}

func (q *queue) createCommandBuffer(label string) (gpucore.CommandBuffer, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrContextClosed
	}
	return q.raw.CreateCommandBuffer(label)
}

func (q *queue) submit(cb gpucore.CommandBuffer) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		cb.Discard()
		return ErrContextClosed
	}
	return q.raw.Submit(cb)
}

func (q *queue) waitIdle(timeout time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrContextClosed
	}
	return q.raw.WaitIdle(timeout)
}

// Context owns a native device and its queue, and is the factory for every
// other GPU object.
//
// Context is safe for concurrent use. The device mutex is held for the
// duration of each native device call; the queue has its own mutex shared
// with every CommandEncoder created from the Context.
type Context struct {
	mu         sync.Mutex
	device     gpucore.Device
	queue      *queue
	caps       gpucore.Capabilities
	driver     string
	validation bool
	log        *slog.Logger
	resources  table
	closed     bool
}

// Ensure Context implements io.Closer
var _ io.Closer = (*Context)(nil)

// New opens the default device of the selected driver.
//
// The driver is desc.Driver if set, otherwise the registered driver named
// desc.Backend. Otherwise every registered driver is tried in priority
// order and the first that finds a device is used. Drivers register
// themselves when their package is imported:
//
//	import _ "github.com/gogpu/blade/backend/native"
//
// New returns a *NotSupportedError when no driver is available or the
// driver finds no compatible device.
func New(desc ContextDesc) (*Context, error) {
	log := contextLogger(desc.Logger, desc.Name)
	opts := &backend.Options{
		Validation: desc.Validation,
		Label:      desc.Name,
		Logger:     log,
	}
	driver := desc.Driver
	if driver == nil && desc.Backend != "" {
		driver = backend.Get(desc.Backend)
		if driver == nil {
			return nil, &NotSupportedError{
				Reason: fmt.Sprintf("driver %q", desc.Backend),
				Err:    backend.ErrBackendNotAvailable,
			}
		}
	}

	var (
		od  gpucore.OpenDevice
		err error
	)
	if driver != nil {
		od, err = driver.Open(opts)
	} else {
		driver, od, err = backend.Open(opts)
	}
	if err != nil {
		switch {
		case errors.Is(err, backend.ErrBackendNotAvailable):
			return nil, &NotSupportedError{Reason: "no driver registered", Err: err}
		case errors.Is(err, gpucore.ErrNoDevice) && driver == nil:
			return nil, &NotSupportedError{Reason: "no driver found a device", Err: err}
		case errors.Is(err, gpucore.ErrNoDevice):
			return nil, &NotSupportedError{Reason: fmt.Sprintf("driver %q", driver.Name()), Err: err}
		}
		return nil, deviceError("open device", err)
	}

	c := &Context{
		device:     od.Device,
		queue:      &queue{raw: od.Queue},
		caps:       od.Device.Capabilities(),
		driver:     driver.Name(),
		validation: desc.Validation,
		log:        log,
		resources:  newTable(),
	}
	c.log.Info("blade: context created",
		"driver", c.driver, "device", c.caps.Name, "backend", c.caps.Backend, "validation", c.validation)
	return c, nil
}

// Capabilities returns the limits of the device.
func (c *Context) Capabilities() Capabilities {
	return c.caps
}

// Driver returns the name of the driver the Context was opened with.
func (c *Context) Driver() string {
	return c.driver
}

// WaitIdle blocks until all submitted work has completed or timeout elapses.
func (c *Context) WaitIdle(timeout time.Duration) error {
	return deviceError("wait idle", c.queue.waitIdle(timeout))
}

// Close waits for the queue to drain, reports leaked resources and
// destroys the device. Close is idempotent.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	waitErr := c.queue.waitIdle(defaultWaitTimeout)

	c.queue.mu.Lock()
	c.queue.closed = true
	c.queue.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, leak := range c.resources.leaks() {
		c.log.Warn("blade: resource leaked at close", "resource", leak)
	}
	c.device.Destroy()
	return deviceError("close", waitErr)
}

// lock acquires the device mutex, failing once the Context is closed.
func (c *Context) lock() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrContextClosed
	}
	return nil
}

// BufferDesc describes a buffer.
type BufferDesc struct {
	// Name becomes the native debug label when non-empty.
	Name string

	// Size is the size in bytes. Must be non-zero.
	Size uint64

	// Memory selects the storage mode.
	Memory Memory
}

// CreateBuffer allocates a buffer. The returned handle holds one reference
// that must be released with DestroyBuffer.
func (c *Context) CreateBuffer(desc BufferDesc) (Buffer, error) {
	if desc.Size == 0 {
		return Buffer{}, fmt.Errorf("%w: buffer %q has zero size", ErrInvalidSize, desc.Name)
	}
	if limit := c.caps.MaxBufferSize; limit != 0 && desc.Size > limit {
		return Buffer{}, fmt.Errorf("%w: buffer %q is %d bytes, limit %d", ErrInvalidSize, desc.Name, desc.Size, limit)
	}
	if desc.Memory > MemoryUpload {
		return Buffer{}, fmt.Errorf("%w: buffer memory %v", ErrInvalidDescriptor, desc.Memory)
	}
	if err := c.lock(); err != nil {
		return Buffer{}, err
	}
	defer c.mu.Unlock()

	id, err := c.device.CreateBuffer(&gpucore.BufferDesc{Label: desc.Name, Size: desc.Size, Memory: desc.Memory})
	if err != nil {
		return Buffer{}, deviceError("create buffer", err)
	}
	c.resources.add(uint64(id), &resource{kind: kindBuffer, name: desc.Name, size: desc.Size, memory: desc.Memory})
	c.log.Debug("blade: buffer created", "name", desc.Name, "size", desc.Size, "memory", desc.Memory)
	return Buffer{id: id}, nil
}

// DestroyBuffer releases the reference taken at creation.
// The null handle fails with ErrNullHandle and a second destroy with
// ErrResourceDestroyed; neither reaches the driver.
func (c *Context) DestroyBuffer(b Buffer) error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.mu.Unlock()

	r, err := c.resources.retire(uint64(b.id), kindBuffer)
	if err != nil {
		return err
	}
	c.device.DestroyBuffer(b.id)
	c.log.Debug("blade: buffer destroyed", "name", r.name)
	return nil
}

// hostRange checks a CPU access of n bytes at piece. Called with c.mu held.
func (c *Context) hostRange(piece BufferPiece, n int) (*resource, error) {
	r, err := c.resources.lookup(uint64(piece.Buffer.id), kindBuffer)
	if err != nil {
		return nil, err
	}
	if !r.memory.HostVisible() {
		return nil, fmt.Errorf("%w: buffer %q is %v memory", ErrNotHostVisible, r.name, r.memory)
	}
	if piece.Offset+uint64(n) > r.size {
		return nil, fmt.Errorf("%w: %d bytes at %d in buffer %q of %d bytes", ErrOutOfRange, n, piece.Offset, r.name, r.size)
	}
	return r, nil
}

// WriteBuffer copies data into a Shared or Upload buffer.
func (c *Context) WriteBuffer(piece BufferPiece, data []byte) error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.mu.Unlock()

	if _, err := c.hostRange(piece, len(data)); err != nil {
		return err
	}
	return deviceError("write buffer", c.device.WriteBuffer(piece.Buffer.id, piece.Offset, data))
}

// ReadBuffer waits for all submitted work to finish and then copies
// len(dst) bytes out of a Shared or Upload buffer.
func (c *Context) ReadBuffer(piece BufferPiece, dst []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrContextClosed
	}
	_, err := c.hostRange(piece, len(dst))
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if err := c.queue.waitIdle(defaultWaitTimeout); err != nil {
		return deviceError("read buffer", err)
	}

	if err := c.lock(); err != nil {
		return err
	}
	defer c.mu.Unlock()
	if _, err := c.hostRange(piece, len(dst)); err != nil {
		return err
	}
	return deviceError("read buffer", c.device.ReadBuffer(piece.Buffer.id, piece.Offset, dst))
}

// bufferRange checks a GPU access of size bytes at piece and returns the
// buffer's resource entry.
func (c *Context) bufferRange(piece BufferPiece, size uint64) (*resource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrContextClosed
	}
	r, err := c.resources.lookup(uint64(piece.Buffer.id), kindBuffer)
	if err != nil {
		return nil, err
	}
	if piece.Offset > r.size || size > r.size-piece.Offset {
		return nil, fmt.Errorf("%w: %d bytes at %d in buffer %q of %d bytes", ErrOutOfRange, size, piece.Offset, r.name, r.size)
	}
	return r, nil
}

// CommandEncoderDesc configures a CommandEncoder.
type CommandEncoderDesc struct {
	// Name labels the native command buffer.
	Name string
}

// CreateCommandEncoder returns an empty encoder bound to the Context's
// queue. It never fails; the native command buffer is created by Start.
func (c *Context) CreateCommandEncoder(desc CommandEncoderDesc) *CommandEncoder {
	return &CommandEncoder{ctx: c, queue: c.queue, name: desc.Name}
}

// Submit hands the encoder's native command buffer to the queue and
// returns without waiting for it to execute. The encoder is spent
// afterwards, whether or not the driver accepted the buffer.
//
// A started encoder that recorded no passes submits an empty command
// buffer.
func (c *Context) Submit(enc *CommandEncoder) error {
	if enc == nil {
		return fmt.Errorf("%w: nil command encoder", ErrInvalidDescriptor)
	}
	if enc.ctx != c {
		return fmt.Errorf("%w: encoder %q belongs to another context", ErrInvalidDescriptor, enc.name)
	}
	raw, err := enc.take()
	if err != nil {
		return err
	}
	if err := enc.queue.submit(raw); err != nil {
		if errors.Is(err, ErrContextClosed) {
			return err
		}
		return deviceError("submit", err)
	}
	c.log.Debug("blade: command encoder submitted", "name", enc.name, "passes", enc.passes)
	return nil
}
