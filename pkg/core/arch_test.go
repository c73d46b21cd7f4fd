package core_test

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// allowedCoreImports are the non-stdlib packages pkg/core may import.
var allowedCoreImports = map[string]bool{
	"golang.org/x/text/cases": true,
}

// goImports returns the imports of every non-test Go file in dir, keyed by file name.
func goImports(t *testing.T, dir string) map[string][]string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", dir, err)
	}

	fset := token.NewFileSet()
	out := make(map[string][]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".go") || strings.HasSuffix(entry.Name(), "_test.go") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			t.Errorf("Failed to parse %s: %v", path, err)
			continue
		}
		for _, imp := range f.Imports {
			out[path] = append(out[path], strings.Trim(imp.Path.Value, `"`))
		}
	}
	return out
}

// TestCoreImportsOnly verifies pkg/core only imports the standard library
// and the allowed x/ packages.
func TestCoreImportsOnly(t *testing.T) {
	for file, imports := range goImports(t, ".") {
		for _, imp := range imports {
			// stdlib paths have no dot in their first element
			if !strings.Contains(strings.SplitN(imp, "/", 2)[0], ".") {
				continue
			}
			if !allowedCoreImports[imp] {
				t.Errorf("%s imports forbidden package: %s", file, imp)
			}
		}
	}
}

// TestPkgDoesNotImportInternal verifies no package under pkg/ reaches into internal/.
func TestPkgDoesNotImportInternal(t *testing.T) {
	pkgRoot := ".."
	err := filepath.WalkDir(pkgRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		for file, imports := range goImports(t, path) {
			for _, imp := range imports {
				if strings.Contains(imp, "/internal/") {
					t.Errorf("%s imports internal package: %s", file, imp)
				}
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to walk %s: %v", pkgRoot, err)
	}
}
