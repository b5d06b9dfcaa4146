// Package version reports the build version stamped in by the linker.
package version

// value is overridden with -ldflags "-X cashfity/pkg/version.value=v1.2.3".
var value = "dev"

// Version returns the build version.
func Version() string {
	return value
}
