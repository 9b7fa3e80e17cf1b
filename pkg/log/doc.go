// Package log provides the capture log of the mesh runtime.
//
// The capture log is a machine-readable record of what a mesh did: meshes
// opened, carved and reshaped, traces recorded, uploaded and replayed. It is
// separate from operational logging (slog), which stays human oriented.
//
// # Basic Usage
//
//	// Console while developing
//	capture := log.NewSlogAdapter(slog.Default())
//
//	// Binary file for mesh-log
//	file, _ := log.NewFileLogger("run.mlog")
//
//	// Both, stamped with one session id
//	capture := log.NewSession(log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), file))
//
//	m, _ := mesh.Create(pool, cfg, mesh.WithCaptureLogger(capture))
//
// # File Format
//
// Log files are a stream of CBOR-encoded [Event] values with the .mlog
// extension. The mesh-log tool views, filters and exports them.
package log
