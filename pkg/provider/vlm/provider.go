// Package vlm defines the Describer interface for vision-language backends.
//
// A describer consumes one encoded image and returns a short natural-language
// description of the scene. The frame differencer gates calls to it, so a
// describer may be arbitrarily expensive — it only ever runs when the scene
// actually changed.
//
// Implementations must be safe for concurrent use.
package vlm

import "context"

// Description is the outcome of describing one frame.
type Description struct {
	// Text is a short human-readable description of the scene.
	Text string

	// LatencyMS is how long the backend took to produce the description.
	LatencyMS int
}

// Describer is the abstraction over any vision-language backend.
type Describer interface {
	// Describe analyses an encoded image (JPEG or PNG bytes) and returns a
	// short description. An error means "no result this cycle": the caller
	// logs it and the capture loop continues.
	Describe(ctx context.Context, image []byte) (Description, error)
}
