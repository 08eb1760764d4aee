package types

// SymbolKind is the kind of a top-level Go declaration
type SymbolKind string

const (
	KindFunction  SymbolKind = "function"
	KindMethod    SymbolKind = "method"
	KindStruct    SymbolKind = "struct"
	KindInterface SymbolKind = "interface"
	KindType      SymbolKind = "type"
	KindConst     SymbolKind = "const"
	KindVar       SymbolKind = "var"
)

// Position is a 1-based line and column
type Position struct {
	Line   int
	Column int
}

// Symbol is a top-level declaration. Chunk boundaries follow symbols.
type Symbol struct {
	Name     string
	Kind     SymbolKind
	Receiver string // methods only
	Start    Position
	End      Position
}
