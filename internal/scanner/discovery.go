package scanner

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"

	"github.com/gonogo/rtm/internal/rtm"
)

// testFuncPattern matches Go's own test-function convention: a top-level
// func named Test<Something>(t *testing.T), the structural signal the
// Source Scanner uses instead of leaning on a runner's discovery machinery.
var testFuncPattern = regexp.MustCompile(`^Test[A-Z0-9_]`)

// discoveredTest is one test function found in a single source file.
type discoveredTest struct {
	ID   string // path::symbol
	Test rtm.Test
}

// parseFile parses a single Go source file and returns every discovered
// test function's metadata. A parse failure is returned as an error rather
// than panicking; the caller records it in ScanReport.AnnotationErrors and
// continues with the remaining files (§4.1 "skip file; do not fail the
// whole scan").
func parseFile(path string) ([]discoveredTest, error) {
	fset := token.NewFileSet()

	file, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("scanner: parse %s: %w", path, err)
	}

	var out []discoveredTest
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv != nil {
			continue
		}
		if !testFuncPattern.MatchString(fn.Name.Name) {
			continue
		}

		id := path + "::" + fn.Name.Name

		var doc string
		if fn.Doc != nil {
			doc = fn.Doc.Text()
		}
		ann := parseAnnotations(doc)

		out = append(out, discoveredTest{
			ID: id,
			Test: rtm.Test{
				ID:                  id,
				Type:                ann.Type,
				Components:          ann.Components,
				Priority:            ann.Priority,
				UserStoryIDs:        ann.UserStoryIDs,
				EpicIDs:             ann.EpicIDs,
				RegressionDefectIDs: ann.DefectIDs,
				BDDScenarioRef:      ann.BDDScenarioRef,
			},
		})
	}

	return out, nil
}
