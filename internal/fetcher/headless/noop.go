package headless

import (
	"context"
	"errors"
)

// ErrDisabled is returned by Noop.
var ErrDisabled = errors.New("headless renderer not configured")

// Noop implements favicon.HeadRenderer but always fails, for deployments
// without a browser.
type Noop struct{}

// NewNoop creates a new Noop renderer.
func NewNoop() *Noop {
	return &Noop{}
}

// RenderHead returns ErrDisabled.
func (Noop) RenderHead(_ context.Context, _ string) (string, string, error) {
	return "", "", ErrDisabled
}
