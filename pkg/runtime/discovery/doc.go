// Package discovery finds mountable modules on a filesystem.
//
// Discover walks a directory up to a maximum depth, skipping names the
// matcher rejects (by default anything starting with "." or "_"), and
// returns one Entry per file whose extension has a registered Decoder.
// JSON, TOML and YAML are registered by default. Each Entry carries its
// name path relative to the scan root, extension removed, and a cached
// loader:
//
//	d := discovery.New(afero.NewOsFs())
//	entries, err := d.Discover("modules", nil, discovery.DefaultMaxDepth)
//	for _, e := range entries {
//		tree.Bind(e.MountPath("mods"), namespace.Provider(e.Load), namespace.ModeLazy)
//	}
//
// A root that does not exist is retried with each registered extension, so
// "config/db" finds "config/db.yaml".
package discovery
