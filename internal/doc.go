// Package internal contains the implementation packages for gstdots.
//
// # Package Organization
//
// The system is two halves that meet only on disk:
//
//   - watcher: non-recursive directory watching with a per-file settle delay
//   - pipeline: turns description events into image and page artifacts
//   - renderer: runs the external layout program (Graphviz dot by default)
//   - artifact: path derivation, wrapper pages and the output directory
//   - registry: ordered set of viewer pages, driven by a second watcher
//   - fanout: websocket hub that tells browsers to re-fetch the gallery
//   - server: gallery page, JSON API, artifact files and /metrics
//   - services: wires the above together for the serve and render commands
//   - dump: runs a program with GST_DEBUG_DUMP_DOT_DIR prepared
//
// Ambient packages: config, logging, errors, metrics, middleware,
// validation, version and testutils.
//
// # Data Flow
//
//	source dir -> watcher -> pipeline -> output dir
//	output dir -> watcher -> registry -> fanout -> browsers
//
// The pipeline never calls the registry. A graph becomes visible when its
// page appears in the output directory and disappears when the page is
// deleted, so the gallery always reflects what is on disk.
package internal
