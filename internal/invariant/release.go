//go:build !assertions

package invariant

const panicOnViolation = false
