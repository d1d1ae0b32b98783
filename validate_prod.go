//go:build !debug_offsetalloc

package offsetalloc

// DebugValidate no-ops in production builds. See validate_debug.go.
func DebugValidate(v Validatable) {}

func debugAssertUsed(n node) {}
