// Package preload warms lazily bound namespace leaves ahead of first use.
//
// Directory mounts bind every discovered file lazily, so a malformed file
// is only noticed when something resolves it. A Preloader walks a subtree
// and runs each lazy provider on a fixed number of workers, which both
// fills the decoders' caches and surfaces decode failures while the
// application is still booting:
//
//	p := preload.New(4)
//	stats, err := p.Preload(ctx, tree, "config")
//	if err != nil {
//		// every failed leaf is listed, in namespace order
//	}
//
// Panicking providers are recovered and reported like errors.
package preload
