//go:build cgo

package chunker

import (
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

const pythonQuery = `
	(function_definition name: (identifier) @name) @chunk
	(class_definition name: (identifier) @name) @chunk
	(decorated_definition definition: (function_definition name: (identifier) @name)) @chunk
	(decorated_definition definition: (class_definition name: (identifier) @name)) @chunk
`

const javascriptQuery = `
	(function_declaration name: (identifier) @name) @chunk
	(class_declaration name: (identifier) @name) @chunk
	(method_definition name: (property_identifier) @name) @chunk
	(export_statement (function_declaration name: (identifier) @name)) @chunk
	(export_statement (class_declaration name: (identifier) @name)) @chunk
	(lexical_declaration (variable_declarator name: (identifier) @name value: (arrow_function))) @chunk
`

const typescriptQuery = `
	(function_declaration name: (identifier) @name) @chunk
	(class_declaration name: (type_identifier) @name) @chunk
	(method_definition name: (property_identifier) @name) @chunk
	(export_statement (function_declaration name: (identifier) @name)) @chunk
	(export_statement (class_declaration name: (type_identifier) @name)) @chunk
	(lexical_declaration (variable_declarator name: (identifier) @name value: (arrow_function))) @chunk
	(interface_declaration name: (type_identifier) @name) @chunk
	(type_alias_declaration name: (type_identifier) @name) @chunk
`

// TreeSitterAvailable reports whether semantic chunking for non-Go languages is compiled in
const TreeSitterAvailable = true

func registerTreeSitter(reg *Registry) {
	reg.Register("python", []string{"py", "pyi"},
		NewTreeSitterStrategy("python", python.GetLanguage(), pythonQuery))
	reg.Register("javascript", []string{"js", "jsx", "mjs", "cjs"},
		NewTreeSitterStrategy("javascript", javascript.GetLanguage(), javascriptQuery))
	reg.Register("typescript", []string{"ts", "tsx"},
		NewTreeSitterStrategy("typescript", typescript.GetLanguage(), typescriptQuery))
	reg.RegisterShebang("python", "python")
	reg.RegisterShebang("node", "javascript")
}
