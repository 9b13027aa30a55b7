// Package mock provides a test double for the vlm package.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/sensoria/pkg/provider/vlm"
)

// DescribeCall records a single invocation of Describer.Describe.
type DescribeCall struct {
	// Image is a copy of the bytes passed to Describe.
	Image []byte
}

// Describer is a scripted implementation of vlm.Describer.
type Describer struct {
	mu sync.Mutex

	// Description is returned by every Describe call.
	Description vlm.Description

	// Err, if non-nil, is returned by every Describe call.
	Err error

	// Block, if non-nil, is closed by the test to release in-flight Describe
	// calls. Useful for exercising out-of-band completion.
	Block chan struct{}

	// DescribeCalls records every call in order.
	DescribeCalls []DescribeCall
}

var _ vlm.Describer = (*Describer)(nil)

// Describe records the call and returns the scripted description.
func (d *Describer) Describe(ctx context.Context, image []byte) (vlm.Description, error) {
	d.mu.Lock()
	img := make([]byte, len(image))
	copy(img, image)
	d.DescribeCalls = append(d.DescribeCalls, DescribeCall{Image: img})
	block := d.Block
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return vlm.Description{}, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return vlm.Description{}, d.Err
	}
	return d.Description, nil
}

// Calls returns a snapshot of recorded calls.
func (d *Describer) Calls() []DescribeCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DescribeCall, len(d.DescribeCalls))
	copy(out, d.DescribeCalls)
	return out
}
