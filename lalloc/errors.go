package lalloc

import "errors"

var (
	// ErrTooLarge indicates a request above the maximum block size (the
	// per-layer span).
	ErrTooLarge = errors.New("lalloc: request exceeds maximum block size")

	// ErrLayerFull indicates the size class for the request has no free
	// blocks and its bump frontier reached the layer capacity.
	ErrLayerFull = errors.New("lalloc: size class exhausted")

	// ErrBadRef indicates an address outside the reservation or not
	// aligned to its layer's block size.
	ErrBadRef = errors.New("lalloc: bad block reference")

	// ErrBadConfig indicates an inconsistent Config.
	ErrBadConfig = errors.New("lalloc: invalid configuration")

	// ErrClosed indicates use of an allocator after Close.
	ErrClosed = errors.New("lalloc: allocator closed")
)
