package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/deltaindex/pkg/types"
)

const userSource = `package testpkg

import (
	"fmt"
	str "strings"
)

// User represents a user in the system
type User struct {
	ID   int
	Name string
}

// GetName returns the user's name
func (u *User) GetName() string {
	return u.Name
}

// NewUser creates a new user
func NewUser(id int, name string) *User {
	return &User{ID: id, Name: str.TrimSpace(name)}
}

const (
	A = 1
	B = 2
)

func helper() { fmt.Println() }
`

func TestParseSource_ValidGoFile(t *testing.T) {
	p := New()
	result := p.ParseSource("user.go", []byte(userSource))

	require.False(t, result.HasErrors())
	assert.Equal(t, "testpkg", result.PackageName)
	assert.False(t, result.HasMain)

	require.Len(t, result.Imports, 2)
	assert.Equal(t, "fmt", result.Imports[0].Path)
	assert.Equal(t, "strings", result.Imports[1].Path)
	assert.Equal(t, "str", result.Imports[1].Alias)

	byName := make(map[string]types.Symbol)
	for _, sym := range result.Symbols {
		byName[sym.Name] = sym
	}
	require.Contains(t, byName, "User")
	require.Contains(t, byName, "GetName")
	require.Contains(t, byName, "NewUser")
	require.Contains(t, byName, "A")
	require.Contains(t, byName, "helper")

	assert.Equal(t, types.KindStruct, byName["User"].Kind)
	assert.Equal(t, 8, byName["User"].Start.Line, "range starts at the doc comment")
	assert.Equal(t, 12, byName["User"].End.Line)

	assert.Equal(t, types.KindMethod, byName["GetName"].Kind)
	assert.Equal(t, "User", byName["GetName"].Receiver)

	assert.Equal(t, types.KindConst, byName["A"].Kind)
	assert.Equal(t, 24, byName["A"].Start.Line)
	assert.Equal(t, 27, byName["A"].End.Line)
	assert.NotContains(t, byName, "B", "const group is a single symbol")
}

func TestParseSource_DetectsMain(t *testing.T) {
	p := New()
	result := p.ParseSource("main.go", []byte("package main\n\nfunc main() {}\n"))
	assert.True(t, result.HasMain)

	lib := p.ParseSource("lib.go", []byte("package lib\n\nfunc main() {}\n"))
	assert.False(t, lib.HasMain, "func main outside package main is not an entry point")
}

func TestParseSource_SyntaxErrorKeepsPartialResult(t *testing.T) {
	p := New()
	result := p.ParseSource("broken.go", []byte("package broken\n\nfunc ok() {}\n\nfunc bad( {\n"))

	assert.True(t, result.HasErrors())
	assert.Equal(t, "broken", result.PackageName)
}

func TestParseImports(t *testing.T) {
	p := New()
	pkg, imports, err := p.ParseImports("user.go", []byte(userSource))
	require.NoError(t, err)
	assert.Equal(t, "testpkg", pkg)
	assert.Len(t, imports, 2)
}
