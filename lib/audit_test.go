// Package lib holds cross-package audit tests over the library sources.
package lib

import (
	"encoding/base64"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// libraryFiles parses every non-test Go file under lib/.
func libraryFiles(t *testing.T, mode parser.Mode) map[string]*ast.File {
	t.Helper()
	files := make(map[string]*ast.File)
	err := filepath.Walk(".", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		f, err := parser.ParseFile(token.NewFileSet(), path, nil, mode)
		if err != nil {
			return err
		}
		files[path] = f
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, files)
	return files
}

// Nonces, IVs and keys must come from go-i2p/crypto/rand.
func TestRandomnessFromCryptoRand(t *testing.T) {
	for path, f := range libraryFiles(t, parser.ImportsOnly) {
		for _, imp := range f.Imports {
			p, _ := strconv.Unquote(imp.Path.Value)
			switch p {
			case "math/rand", "math/rand/v2":
				t.Errorf("%s imports %s", path, p)
			case "crypto/rand":
				t.Errorf("%s imports crypto/rand directly, use github.com/go-i2p/crypto/rand", path)
			}
		}
	}
}

// The frame key is configuration; no source file may carry a literal that
// decodes to a 256-bit key.
func TestNoEmbeddedSymmetricKey(t *testing.T) {
	for path, f := range libraryFiles(t, 0) {
		ast.Inspect(f, func(n ast.Node) bool {
			lit, ok := n.(*ast.BasicLit)
			if !ok || lit.Kind != token.STRING {
				return true
			}
			s, err := strconv.Unquote(lit.Value)
			if err != nil {
				return true
			}
			if raw, err := base64.StdEncoding.DecodeString(s); err == nil && len(raw) == 32 {
				t.Errorf("%s contains a literal that decodes to a 32-byte key", path)
			}
			return true
		})
	}
}

// Links are owned by a Registry value; the transport package keeps no
// package-level state beyond its logger and error sentinels.
func TestTransportHasNoGlobalState(t *testing.T) {
	for path, f := range libraryFiles(t, 0) {
		if filepath.Dir(path) != "transport" {
			continue
		}
		for _, decl := range f.Decls {
			gen, ok := decl.(*ast.GenDecl)
			if !ok || gen.Tok != token.VAR {
				continue
			}
			for _, spec := range gen.Specs {
				for _, name := range spec.(*ast.ValueSpec).Names {
					n := name.Name
					allowed := n == "_" || n == "log" || strings.HasPrefix(n, "Err")
					assert.True(t, allowed, "%s declares package variable %s", path, n)
				}
			}
		}
	}
}
