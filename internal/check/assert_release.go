//go:build !debug

// Package check holds assertions that only fire in debug builds
// (go build -tags debug). Release builds compile them away.
package check

// Assert is a no-op in release builds.
func Assert(bool, string) {}

// Assertf is a no-op in release builds.
func Assertf(bool, string, ...any) {}
