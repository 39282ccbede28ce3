// Package buildinfo holds values stamped at build time.
package buildinfo

// Version is set with -ldflags "-X github.com/silver2dream/ticketflow/internal/buildinfo.Version=...".
var Version = "dev"
