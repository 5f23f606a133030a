package handler

import "context"

// Converter is the external transcoder surface used for image format
// normalization and HLS remuxing. Implementations report availability so
// callers can skip conversion when the binary is absent.
type Converter interface {
	Available() bool
	ConvertToPNG(ctx context.Context, src, dst string) error
	RemuxToMP4(ctx context.Context, src, dst string) error
}
