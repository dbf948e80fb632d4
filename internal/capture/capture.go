// Package capture reads barcodes from a camera, or from manual entry when no camera is usable.
package capture

import (
	"context"
	"errors"
	"image"
)

// Facing selects a camera by the direction it points.
type Facing string

const (
	FacingAny         Facing = ""
	FacingEnvironment Facing = "environment"
	FacingUser        Facing = "user"
)

var (
	// ErrPermissionDenied is returned by Camera.Open when the platform refuses camera access.
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrNoCamera is returned by Camera.Open when no device matches.
	ErrNoCamera = errors.New("no camera available")
	// ErrStreamClosed is returned by ReadFrame after Close.
	ErrStreamClosed = errors.New("stream closed")
	// ErrUnsupportedFrame is returned when a frame is not a still image format the detector reads.
	ErrUnsupportedFrame = errors.New("unsupported frame format")
)

// Camera opens frame streams.
type Camera interface {
	Open(ctx context.Context, facing Facing) (Stream, error)
}

// Stream yields frames from an open camera. Close releases the device and may be called more than once.
type Stream interface {
	ReadFrame(ctx context.Context) (image.Image, error)
	Close() error
}

// Detector finds a barcode in a frame. ok is false when the frame has none.
type Detector interface {
	Detect(frame image.Image) (code string, ok bool, err error)
}

// Feedback signals a successful scan to the user. Implementations are best effort.
type Feedback interface {
	Beep()
	Vibrate()
}

// Checker is implemented by cameras that can report availability without opening a stream.
type Checker interface {
	Check(ctx context.Context) error
}
