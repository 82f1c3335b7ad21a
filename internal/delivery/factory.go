package delivery

import (
	"context"
	"fmt"

	"pdrb/internal/config"
	"pdrb/internal/pdr"
)

// NewMirrorFromConfig creates a Mirror based on the mirror config type.
// Type "none" or empty returns a nil Mirror.
func NewMirrorFromConfig(ctx context.Context, cfg config.MirrorConfig) (pdr.Mirror, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "s3":
		m, err := NewS3Mirror(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown mirror type: %s", cfg.Type)
	}
}
