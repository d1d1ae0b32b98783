//go:build debug_offsetalloc

package offsetalloc

// DebugValidate calls Validate and panics if it returns an error. It no-ops
// unless the debug_offsetalloc build tag is present, so release builds pay
// nothing for the invariant walk.
func DebugValidate(v Validatable) {
	if err := v.Validate(); err != nil {
		panic(err)
	}
}

// debugAssertUsed panics if the node is not currently marked used. It is
// the debug-build half of the misuse checks in Free.
func debugAssertUsed(n node) {
	if !n.used {
		panic("offsetalloc: expected node to be used")
	}
}
