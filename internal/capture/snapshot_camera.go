package capture

import (
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// maxSnapshotBytes bounds a single still frame.
const maxSnapshotBytes = 16 << 20

// HTTPSnapshotCamera reads still frames from an IP camera's snapshot URL.
// It is a fixed, environment-facing device.
type HTTPSnapshotCamera struct {
	url    string
	client *http.Client
}

// NewHTTPSnapshotCamera creates a camera reading url. A nil client gets a 10 second timeout.
func NewHTTPSnapshotCamera(url string, client *http.Client) *HTTPSnapshotCamera {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSnapshotCamera{url: url, client: client}
}

// Check fetches one frame to confirm the camera answers.
func (c *HTTPSnapshotCamera) Check(ctx context.Context) error {
	_, err := c.fetch(ctx)
	return err
}

// Open confirms the camera answers and returns a stream. FacingUser has no match on a fixed camera.
func (c *HTTPSnapshotCamera) Open(ctx context.Context, facing Facing) (Stream, error) {
	if facing == FacingUser {
		return nil, ErrNoCamera
	}
	if _, err := c.fetch(ctx); err != nil {
		return nil, err
	}
	return &snapshotStream{camera: c}, nil
}

func (c *HTTPSnapshotCamera) fetch(ctx context.Context) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid snapshot url: %w", err)
	}
	req.Header.Set("Accept", "image/jpeg, image/png, image/webp")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCamera, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrPermissionDenied
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: snapshot returned status %d", ErrNoCamera, resp.StatusCode)
	}

	img, _, err := DecodeFrame(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, err
	}
	return img, nil
}

type snapshotStream struct {
	camera *HTTPSnapshotCamera
	closed atomic.Bool
}

func (s *snapshotStream) ReadFrame(ctx context.Context) (image.Image, error) {
	if s.closed.Load() {
		return nil, ErrStreamClosed
	}
	return s.camera.fetch(ctx)
}

func (s *snapshotStream) Close() error {
	s.closed.Store(true)
	return nil
}
