// Package manifest loads integration manifests written in CUE.
//
// A manifest declares integrations under the top-level integration
// field, keyed by integration ID:
//
//	integration: github: {
//		name:        "GitHub"
//		slug:        "github"
//		source_file: "github.hive"
//	}
//
// Source is given either inline (source) or as a path relative to the
// manifest directory (source_file), never both. Slug defaults to the ID.
package manifest

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/hivelang/internal/ir"
)

//go:embed schema.cue
var schemaCUE string

// LoadMode controls how errors are handled during manifest loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Error codes for manifest problems.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build or schema check failed

	ErrCodeSource        = "E201" // Neither or both of source and source_file
	ErrCodeSourceFile    = "E202" // source_file unreadable
	ErrCodeDuplicateSlug = "E203" // Two integrations share a slug
	ErrCodeEmpty         = "E204" // No integrations declared
)

// Error is a manifest problem, with a CUE position when one is known.
type Error struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Manifest holds the integrations declared by one or more CUE files.
type Manifest struct {
	Integrations []ir.Integration
	FileCount    int
}

// LoadDir loads every .cue file in dir as one CUE instance. Files must
// share a package clause (or all omit it).
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
func LoadDir(dir string, mode LoadMode) (*Manifest, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("manifest directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing manifest directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&Error{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(files) == 0 {
		return nil, []error{&Error{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&Error{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&Error{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	m, errs := decode(ctx, value, dir, mode)
	if m != nil {
		m.FileCount = len(files)
	}
	return m, errs
}

// Parse decodes a single manifest file's contents. source_file paths
// are resolved against the directory of filename.
func Parse(filename string, data []byte, mode LoadMode) (*Manifest, []error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(data, cue.Filename(filename))
	m, errs := decode(ctx, value, filepath.Dir(filename), mode)
	if m != nil {
		m.FileCount = 1
	}
	return m, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func decode(ctx *cue.Context, value cue.Value, baseDir string, mode LoadMode) (*Manifest, []error) {
	if err := value.Err(); err != nil {
		return nil, []error{cueError(ErrCodeBuildFailed, err)}
	}

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	value = value.Unify(schema)
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, []error{cueError(ErrCodeBuildFailed, err)}
	}

	var errs []error
	fail := func(err error) bool {
		errs = append(errs, err)
		return mode == LoadModeFailFast
	}

	m := &Manifest{}
	integVal := value.LookupPath(cue.ParsePath("integration"))
	if integVal.Exists() {
		iter, err := integVal.Fields()
		if err != nil {
			return m, []error{cueError(ErrCodeGeneric, err)}
		}
		for iter.Next() {
			integ, err := decodeIntegration(iter.Selector().Unquoted(), iter.Value(), baseDir)
			if err != nil {
				if fail(err) {
					return m, errs
				}
				continue
			}
			m.Integrations = append(m.Integrations, integ)
		}
	}

	sort.Slice(m.Integrations, func(i, j int) bool {
		return m.Integrations[i].ID < m.Integrations[j].ID
	})

	slugs := map[string]string{}
	for _, integ := range m.Integrations {
		if other, ok := slugs[integ.Slug]; ok {
			err := &Error{
				Code:    ErrCodeDuplicateSlug,
				Message: fmt.Sprintf("integrations %s and %s share slug %q", other, integ.ID, integ.Slug),
			}
			if fail(err) {
				return m, errs
			}
			continue
		}
		slugs[integ.Slug] = integ.ID
	}

	if len(m.Integrations) == 0 && len(errs) == 0 {
		errs = append(errs, &Error{Code: ErrCodeEmpty, Message: "no integrations declared"})
	}
	return m, errs
}

// decodeIntegration reads one schema-checked integration value.
func decodeIntegration(id string, v cue.Value, baseDir string) (ir.Integration, error) {
	integ := ir.Integration{ID: id, Slug: id}

	name, err := v.LookupPath(cue.ParsePath("name")).String()
	if err != nil {
		return ir.Integration{}, cueError(ErrCodeGeneric, err)
	}
	integ.Name = name

	if slugVal := v.LookupPath(cue.ParsePath("slug")); slugVal.Exists() {
		slug, err := slugVal.String()
		if err != nil {
			return ir.Integration{}, cueError(ErrCodeGeneric, err)
		}
		integ.Slug = slug
	}

	srcVal := v.LookupPath(cue.ParsePath("source"))
	fileVal := v.LookupPath(cue.ParsePath("source_file"))
	switch {
	case srcVal.Exists() && fileVal.Exists():
		return ir.Integration{}, &Error{
			Code:    ErrCodeSource,
			Message: fmt.Sprintf("integration %s: source and source_file are mutually exclusive", id),
			Pos:     fileVal.Pos(),
		}
	case srcVal.Exists():
		src, err := srcVal.String()
		if err != nil {
			return ir.Integration{}, cueError(ErrCodeGeneric, err)
		}
		integ.Source = src
	case fileVal.Exists():
		rel, err := fileVal.String()
		if err != nil {
			return ir.Integration{}, cueError(ErrCodeGeneric, err)
		}
		path := rel
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, rel)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return ir.Integration{}, &Error{
				Code:    ErrCodeSourceFile,
				Message: fmt.Sprintf("integration %s: %v", id, err),
				Pos:     fileVal.Pos(),
			}
		}
		integ.Source = string(data)
	default:
		return ir.Integration{}, &Error{
			Code:    ErrCodeSource,
			Message: fmt.Sprintf("integration %s: one of source or source_file is required", id),
			Pos:     v.Pos(),
		}
	}
	return integ, nil
}

// cueError converts a CUE error to an Error carrying the first position.
func cueError(code string, err error) *Error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Code: code, Message: err.Error()}
	}
	first := errs[0]
	e := &Error{Code: code, Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		e.Pos = positions[0]
	}
	return e
}
