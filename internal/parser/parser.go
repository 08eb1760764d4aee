package parser

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"

	"github.com/dshills/deltaindex/pkg/types"
)

// Parser handles AST-based parsing of Go source files
type Parser struct{}

// New creates a new Parser instance
func New() *Parser {
	return &Parser{}
}

// ParseSource parses Go source content and extracts top-level declarations,
// imports, and package information. Syntax errors are recorded on the result
// and whatever partial AST the parser produced is still used.
func (p *Parser) ParseSource(filePath string, content []byte) *types.ParseResult {
	result := &types.ParseResult{}
	fset := token.NewFileSet()

	file, err := parser.ParseFile(fset, filePath, content, parser.ParseComments)
	if err != nil {
		result.AddError(filePath, err.Error())
	}
	if file == nil {
		return result
	}

	if file.Name != nil {
		result.PackageName = file.Name.Name
	}
	result.Imports = extractImports(file)

	ex := &declExtractor{fset: fset}
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			sym := ex.funcSymbol(d)
			if sym.Kind == types.KindFunction && sym.Name == "main" && result.PackageName == "main" {
				result.HasMain = true
			}
			result.Symbols = append(result.Symbols, sym)
		case *ast.GenDecl:
			result.Symbols = append(result.Symbols, ex.genDeclSymbols(d)...)
		}
	}

	return result
}

// ParseImports parses only the package clause and imports, which is all the
// structural analysis needs
func (p *Parser) ParseImports(filePath string, content []byte) (string, []types.Import, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filePath, content, parser.ImportsOnly)
	if file == nil {
		return "", nil, err
	}
	name := ""
	if file.Name != nil {
		name = file.Name.Name
	}
	return name, extractImports(file), err
}

// extractImports extracts import statements from the AST
func extractImports(file *ast.File) []types.Import {
	imports := make([]types.Import, 0, len(file.Imports))
	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		spec := types.Import{Path: path}
		if imp.Name != nil {
			spec.Alias = imp.Name.Name
		}
		imports = append(imports, spec)
	}
	return imports
}

type declExtractor struct {
	fset *token.FileSet
}

// funcSymbol covers the declaration including its doc comment
func (e *declExtractor) funcSymbol(fn *ast.FuncDecl) types.Symbol {
	start := fn.Pos()
	if fn.Doc != nil {
		start = fn.Doc.Pos()
	}
	sym := types.Symbol{
		Name:  fn.Name.Name,
		Kind:  types.KindFunction,
		Start: e.position(start),
		End:   e.position(fn.End()),
	}
	if fn.Recv != nil && len(fn.Recv.List) > 0 {
		sym.Kind = types.KindMethod
		sym.Receiver = receiverType(fn.Recv.List[0].Type)
	}
	return sym
}

// genDeclSymbols returns one symbol per type spec, and one symbol for a whole
// const or var group so the group stays in a single chunk
func (e *declExtractor) genDeclSymbols(gd *ast.GenDecl) []types.Symbol {
	start := gd.Pos()
	if gd.Doc != nil {
		start = gd.Doc.Pos()
	}

	switch gd.Tok {
	case token.CONST, token.VAR:
		kind := types.KindVar
		if gd.Tok == token.CONST {
			kind = types.KindConst
		}
		name := ""
		if len(gd.Specs) > 0 {
			if vs, ok := gd.Specs[0].(*ast.ValueSpec); ok && len(vs.Names) > 0 {
				name = vs.Names[0].Name
			}
		}
		return []types.Symbol{{
			Name:  name,
			Kind:  kind,
			Start: e.position(start),
			End:   e.position(gd.End()),
		}}
	case token.TYPE:
		syms := make([]types.Symbol, 0, len(gd.Specs))
		for _, spec := range gd.Specs {
			ts, ok := spec.(*ast.TypeSpec)
			if !ok {
				continue
			}
			s := types.Symbol{
				Name:  ts.Name.Name,
				Kind:  types.KindType,
				Start: e.position(ts.Pos()),
				End:   e.position(ts.End()),
			}
			// A single-spec declaration keeps its doc comment and "type" keyword.
			if len(gd.Specs) == 1 {
				s.Start = e.position(start)
				s.End = e.position(gd.End())
			}
			switch ts.Type.(type) {
			case *ast.StructType:
				s.Kind = types.KindStruct
			case *ast.InterfaceType:
				s.Kind = types.KindInterface
			}
			syms = append(syms, s)
		}
		return syms
	default:
		return nil
	}
}

// receiverType extracts the receiver type name from a method
func receiverType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverType(t.X)
	case *ast.IndexExpr:
		return receiverType(t.X)
	case *ast.IndexListExpr:
		return receiverType(t.X)
	case *ast.Ident:
		return t.Name
	}
	return ""
}

func (e *declExtractor) position(pos token.Pos) types.Position {
	p := e.fset.Position(pos)
	return types.Position{Line: p.Line, Column: p.Column}
}
