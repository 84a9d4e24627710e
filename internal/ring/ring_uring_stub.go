//go:build !uring

package ring

import "errors"

// NewUringRing is only available when built with the uring tag.
func NewUringRing(cfg Config) (Ring, error) {
	return nil, errors.New("ring: io_uring backend not compiled in (build with -tags uring)")
}
