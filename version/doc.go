// Package version reports build metadata for loadguard binaries.
//
// Release builds stamp the variables with -ldflags:
//
//	go build -ldflags "-X github.com/kbukum/loadguard/version.Version=1.2.0" ./cmd/loadguard
//
// Unstamped builds fall back to the VCS data the Go toolchain embeds.
package version
