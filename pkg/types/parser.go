package types

// ParseResult is what the Go parser extracts from one file
type ParseResult struct {
	PackageName string
	HasMain     bool // package main declaring func main
	Imports     []Import
	Symbols     []Symbol

	// Errors are non-fatal; whatever parsed is still returned
	Errors []SyntaxError
}

// Import is one import spec
type Import struct {
	Path  string
	Alias string // "", ".", "_" or a name
}

// SyntaxError is a parse failure in one file
type SyntaxError struct {
	File string
	Msg  string
}

func (e SyntaxError) Error() string {
	return e.File + ": " + e.Msg
}

// HasErrors reports whether any syntax error was recorded
func (pr *ParseResult) HasErrors() bool {
	return len(pr.Errors) > 0
}

// AddError records a syntax error
func (pr *ParseResult) AddError(file, msg string) {
	pr.Errors = append(pr.Errors, SyntaxError{File: file, Msg: msg})
}
