package filter

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/google/cel-go/cel"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultExclude matches classes that are never instrumented: the Go
// runtime and standard low-level packages, and sniffer itself.
const DefaultExclude = `^(runtime|internal|syscall|reflect|sync|unsafe|github\.com/ppiankov/sniffer)([./]|$)`

var defaultExclude = regexp.MustCompile(DefaultExclude)

// DecisionCacheSize caps the cached decisions per filter. Older entries
// are evicted least recently used first.
const DecisionCacheSize = 4096

// Filter decides which class/method pairs are eligible for instrumentation.
// Decisions are cached per class, or per class+method when an expression
// is set, up to DecisionCacheSize entries. Safe for concurrent use.
type Filter struct {
	include   []*regexp.Regexp
	expr      cel.Program
	source    Source
	decisions *lru.Cache[string, bool]
}

// Source is the user-supplied part of a filter, kept for logging.
type Source struct {
	Packages []string
	Expr     string
}

// New compiles a filter. Each packages entry is a ';'-separated list of
// class name patterns where '*' matches anything; a class must match every
// entry. An empty expr disables expression filtering.
func New(packages []string, expr string) (*Filter, error) {
	f := &Filter{source: Source{Packages: packages, Expr: expr}}
	for _, pattern := range packages {
		re, err := CompileInclude(pattern)
		if err != nil {
			return nil, err
		}
		if re != nil {
			f.include = append(f.include, re)
		}
	}
	prog, err := CompileExpr(expr)
	if err != nil {
		return nil, err
	}
	f.expr = prog
	if f.decisions, err = lru.New[string, bool](DecisionCacheSize); err != nil {
		return nil, fmt.Errorf("filter: decision cache: %w", err)
	}
	return f, nil
}

// CompileInclude turns "github.com/acme/*;example.com/app" into an anchored
// regexp. A blank pattern returns nil.
func CompileInclude(pattern string) (*regexp.Regexp, error) {
	var alts []string
	for _, part := range strings.Split(pattern, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		alts = append(alts, strings.ReplaceAll(regexp.QuoteMeta(part), `\*`, ".*"))
	}
	if len(alts) == 0 {
		return nil, nil
	}
	re, err := regexp.Compile("^(?:" + strings.Join(alts, "|") + ")")
	if err != nil {
		return nil, fmt.Errorf("filter: compile packages %q: %w", pattern, err)
	}
	return re, nil
}

// CompileExpr compiles a CEL expression over the string variables class,
// method and pkg. It must evaluate to a bool. A blank expr returns nil.
func CompileExpr(expr string) (cel.Program, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("class", cel.StringType),
		cel.Variable("method", cel.StringType),
		cel.Variable("pkg", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("filter: cel env: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("filter: compile %q: %w", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("filter: expression %q must be bool, is %s", expr, ast.OutputType())
	}
	prog, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("filter: program %q: %w", expr, err)
	}
	return prog, nil
}

// Allows reports whether a call to class.method should be recorded.
func (f *Filter) Allows(class, method string) bool {
	key := class
	if f.expr != nil {
		key = class + "#" + method
	}
	if v, ok := f.decisions.Get(key); ok {
		return v
	}
	ok := f.decide(class, method)
	f.decisions.Add(key, ok)
	return ok
}

func (f *Filter) decide(class, method string) bool {
	if defaultExclude.MatchString(class) {
		return false
	}
	for _, re := range f.include {
		if !re.MatchString(class) {
			return false
		}
	}
	if f.expr == nil {
		return true
	}
	out, _, err := f.expr.Eval(map[string]any{
		"class":  class,
		"method": method,
		"pkg":    packageOf(class),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// Source returns the patterns the filter was built from.
func (f *Filter) Source() Source {
	return f.source
}

// packageOf strips the type name: "github.com/acme/app.Server" → "github.com/acme/app".
func packageOf(class string) string {
	slash := strings.LastIndex(class, "/")
	if dot := strings.Index(class[slash+1:], "."); dot >= 0 {
		return class[:slash+1+dot]
	}
	return class
}

// Holder publishes the active filter. Readers never block a reload.
type Holder struct {
	p atomic.Pointer[Filter]
}

// NewHolder returns a holder serving f.
func NewHolder(f *Filter) *Holder {
	h := &Holder{}
	h.p.Store(f)
	return h
}

// Load returns the active filter.
func (h *Holder) Load() *Filter { return h.p.Load() }

// Store replaces the active filter.
func (h *Holder) Store(f *Filter) { h.p.Store(f) }

// Allows consults the active filter.
func (h *Holder) Allows(class, method string) bool {
	return h.p.Load().Allows(class, method)
}
