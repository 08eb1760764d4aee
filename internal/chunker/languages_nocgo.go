//go:build !cgo

package chunker

// TreeSitterAvailable reports whether semantic chunking for non-Go languages is compiled in
const TreeSitterAvailable = false

// Without cgo the grammars are unavailable; the languages are still
// recognized and split by the window fallback.
func registerTreeSitter(reg *Registry) {
	reg.RegisterExtensions("python", "py", "pyi")
	reg.RegisterExtensions("javascript", "js", "jsx", "mjs", "cjs")
	reg.RegisterExtensions("typescript", "ts", "tsx")
	reg.RegisterShebang("python", "python")
	reg.RegisterShebang("node", "javascript")
}
