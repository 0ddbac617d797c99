package screenshot

import "context"

// Capturer renders a web page to an image.
type Capturer interface {
	// CapturePage returns a PNG of the full page at url.
	CapturePage(ctx context.Context, url string) ([]byte, error)
}

// CapturerFunc adapts a function to the Capturer interface.
type CapturerFunc func(ctx context.Context, url string) ([]byte, error)

func (f CapturerFunc) CapturePage(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}
