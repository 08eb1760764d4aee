// Package parser extracts top-level declarations and imports from Go source
// using go/parser and go/ast.
//
//	p := parser.New()
//	result := p.ParseSource("cmd/tool/main.go", content)
//	for _, sym := range result.Symbols {
//	    fmt.Printf("%s %s lines %d-%d\n", sym.Kind, sym.Name, sym.Start.Line, sym.End.Line)
//	}
//
// Syntax errors are non-fatal: they are recorded in ParseResult.Errors and the
// partial AST is still walked. Callers decide whether a file with errors is
// usable.
//
// Symbol ranges include leading doc comments, and const/var groups are reported
// as a single symbol, so the ranges can be used directly as chunk boundaries.
// ParseResult.HasMain marks package main files declaring func main, which the
// structure package treats as entry points.
package parser
