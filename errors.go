package blade

import (
	"errors"
	"fmt"
)

// Precondition errors. These are returned before any native call is made.
var (
	// ErrNotSupported is matched by every *NotSupportedError.
	ErrNotSupported = errors.New("blade: not supported")

	// ErrNullHandle is returned when a zero-value handle is passed where a
	// live resource is required.
	ErrNullHandle = errors.New("blade: null handle")

	// ErrResourceDestroyed is returned when a handle is used or destroyed
	// after it was already destroyed.
	ErrResourceDestroyed = errors.New("blade: resource already destroyed")

	// ErrEncoderNotStarted is returned when recording into or submitting an
	// encoder that was never started.
	ErrEncoderNotStarted = errors.New("blade: command encoder not started")

	// ErrEncoderStarted is returned when Start is called twice.
	ErrEncoderStarted = errors.New("blade: command encoder already started")

	// ErrEncoderSubmitted is returned when a submitted encoder is reused.
	ErrEncoderSubmitted = errors.New("blade: command encoder already submitted")

	// ErrPassInProgress is returned when a pass is opened while another is
	// open, or when submitting with an open pass.
	ErrPassInProgress = errors.New("blade: pass in progress")

	// ErrPassEnded is returned when an ended pass is used.
	ErrPassEnded = errors.New("blade: pass already ended")

	// ErrInvalidSize is returned for zero or oversized buffer and texture sizes.
	ErrInvalidSize = errors.New("blade: invalid size")

	// ErrInvalidDescriptor is returned for descriptors with unknown enum
	// values or inconsistent fields.
	ErrInvalidDescriptor = errors.New("blade: invalid descriptor")

	// ErrOutOfRange is returned when an offset and size exceed a resource.
	ErrOutOfRange = errors.New("blade: out of range")

	// ErrNotHostVisible is returned when the CPU accesses Device memory.
	ErrNotHostVisible = errors.New("blade: buffer memory is not host visible")

	// ErrBindingMismatch is returned when shader data does not match the
	// declared layout.
	ErrBindingMismatch = errors.New("blade: binding does not match layout")

	// ErrTargetMismatch is returned when a render pipeline does not match the
	// targets of the pass it is used in.
	ErrTargetMismatch = errors.New("blade: render targets do not match pipeline")

	// ErrNoPipeline is returned when work is issued without a pipeline.
	ErrNoPipeline = errors.New("blade: no pipeline bound")

	// ErrEntryPointNotFound is returned when a shader has no entry point of
	// the requested name.
	ErrEntryPointNotFound = errors.New("blade: entry point not found")

	// ErrStageMismatch is returned when an entry point is used for the
	// wrong pipeline stage.
	ErrStageMismatch = errors.New("blade: entry point stage mismatch")

	// ErrContextClosed is returned by every operation after Close.
	ErrContextClosed = errors.New("blade: context closed")
)

// NotSupportedError is returned by New when no compatible device exists.
type NotSupportedError struct {
	Reason string
	Err    error
}

func (e *NotSupportedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("blade: not supported: %s: %v", e.Reason, e.Err)
	}
	return "blade: not supported: " + e.Reason
}

func (e *NotSupportedError) Unwrap() error { return e.Err }

// Is reports whether target is ErrNotSupported.
func (e *NotSupportedError) Is(target error) bool { return target == ErrNotSupported }

// PipelineCreationError is returned when a pipeline cannot be created.
type PipelineCreationError struct {
	// Name is the pipeline name from its descriptor.
	Name string

	// Stage is the stage that failed, or 0 if the failure is not
	// specific to one stage.
	Stage ShaderStage

	Err error
}

func (e *PipelineCreationError) Error() string {
	if e.Stage != 0 {
		return fmt.Sprintf("blade: create pipeline %q (%s stage): %v", e.Name, e.Stage, e.Err)
	}
	return fmt.Sprintf("blade: create pipeline %q: %v", e.Name, e.Err)
}

func (e *PipelineCreationError) Unwrap() error { return e.Err }

// ShaderError is returned when shader source fails to compile.
type ShaderError struct {
	Name string
	Err  error
}

func (e *ShaderError) Error() string {
	return fmt.Sprintf("blade: shader %q: %v", e.Name, e.Err)
}

func (e *ShaderError) Unwrap() error { return e.Err }

// DeviceError wraps a failure reported by the native driver, such as
// running out of memory or losing the device. The driver error kinds in
// gpucore (ErrOutOfMemory, ErrDeviceLost, ...) are reachable with errors.Is.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("blade: %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

func deviceError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DeviceError{Op: op, Err: err}
}
