package compiler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/tether/internal/ir"
)

// LoadMode controls how errors are handled during loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Load error codes (E001-E099). Definition errors reuse the E1xx
// validation codes.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeNoResources = "E008" // No resource definitions found
	ErrCodeResourceSet = "E009" // Definitions do not form a valid set
	ErrCodeCycle       = "E010" // Ordering cycle between definitions
)

// LoadResult contains the definitions compiled from CUE.
type LoadResult struct {
	Resources []ir.ResourceDefinition
	Cycles    []CycleWarning
	CUEValue  cue.Value // The raw CUE value for additional processing
	FileCount int       // Number of CUE files found
}

// ResourceSet indexes the loaded definitions.
func (r *LoadResult) ResourceSet() (*ir.ResourceSet, error) {
	rs, err := ir.NewResourceSet(r.Resources...)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeResourceSet, Message: err.Error()}
	}
	return rs, nil
}

// LoadError represents an error that occurred during loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadResources loads and compiles every resource definition in dir.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
func LoadResources(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("resources directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing resources directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}

	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result := &LoadResult{CUEValue: value, FileCount: len(cueFiles)}
	return result, extractResources(value, result, mode)
}

// CompileSource compiles resource definitions from CUE source text. name
// is used in positions.
func CompileSource(name, src string) (*LoadResult, []error) {
	value := cuecontext.New().CompileString(src, cue.Filename(name))
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}
	result := &LoadResult{CUEValue: value, FileCount: 1}
	return result, extractResources(value, result, LoadModeCollectAll)
}

// extractResources compiles, validates and cycle-checks the entries of the
// top-level resource struct.
func extractResources(value cue.Value, result *LoadResult, mode LoadMode) []error {
	var errs []error

	resourcesVal := value.LookupPath(cue.ParsePath("resource"))
	if !resourcesVal.Exists() {
		return []error{&LoadError{Code: ErrCodeNoResources, Message: "no resource definitions found"}}
	}

	iter, err := resourcesVal.Fields()
	if err != nil {
		return []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating resources: %v", err)}}
	}

	for iter.Next() {
		label := iter.Selector().String()
		def, compileErr := CompileResource(iter.Value())
		if compileErr != nil {
			errs = append(errs, convertCompileError(compileErr, "resource."+label))
			if mode == LoadModeFailFast {
				return errs
			}
			continue
		}
		invalid := false
		for _, verr := range Validate(def) {
			invalid = true
			errs = append(errs, &LoadError{Code: verr.Code, Message: verr.Message, Pos: iter.Value().Pos()})
			if mode == LoadModeFailFast {
				return errs
			}
		}
		if !invalid {
			result.Resources = append(result.Resources, *def)
		}
	}

	sort.Slice(result.Resources, func(i, j int) bool {
		return result.Resources[i].Key() < result.Resources[j].Key()
	})

	if len(result.Resources) == 0 && len(errs) == 0 {
		return []error{&LoadError{Code: ErrCodeNoResources, Message: "no resource definitions found"}}
	}

	result.Cycles = AnalyzeCycles(result.Resources)
	for _, c := range result.Cycles {
		if c.Level == LevelError {
			errs = append(errs, &LoadError{Code: ErrCodeCycle, Message: c.Message})
			if mode == LoadModeFailFast {
				return errs
			}
		}
	}

	return errs
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

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: fmt.Sprintf("%s: %s", context, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch {
	case field == "objectClass":
		return ErrObjectClassEmpty
	case field == "literal":
		return ErrInvalidLiteral
	case strings.HasSuffix(field, ".target"):
		return ErrMappingNoTarget
	case strings.HasPrefix(field, "mappings["):
		return ErrMappingNoValue
	default:
		return ErrCodeGeneric
	}
}
