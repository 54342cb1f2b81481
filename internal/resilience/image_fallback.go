package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/talespin/pkg/provider/image"
)

// ImageFallback implements [image.Provider] with failover across several
// illustration backends. With a single backend it still stops calling it
// while its breaker is open, so a dead image service costs nothing but a
// consumed quota slot.
type ImageFallback struct {
	group *FallbackGroup[image.Provider]
}

var _ image.Provider = (*ImageFallback)(nil)

// NewImageFallback creates an [ImageFallback] with primary as the preferred
// backend.
func NewImageFallback(primary image.Provider, primaryName string, cfg FallbackConfig) *ImageFallback {
	return &ImageFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *ImageFallback) AddFallback(name string, provider image.Provider) {
	f.group.AddFallback(name, provider)
}

// Generate asks the first healthy backend for an image. A result without a
// URL counts as a failure of that backend.
func (f *ImageFallback) Generate(ctx context.Context, req image.Request) (*image.Result, error) {
	return ExecuteWithResult(ctx, f.group, func(p image.Provider) (*image.Result, error) {
		res, err := p.Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		if res == nil || res.URL == "" {
			return nil, fmt.Errorf("image provider returned no url")
		}
		return res, nil
	})
}

// States reports the breaker state of every backend.
func (f *ImageFallback) States() map[string]State {
	return f.group.States()
}
