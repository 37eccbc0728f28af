package domain

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"

	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mouse-blink/hotpatch/internal/adapter"
	m "github.com/mouse-blink/hotpatch/internal/model"
)

// Workflow runs plan files: checking where their patches land, showing the
// source they produce, and calling a function with them active.
type Workflow interface {
	Check(args CheckArgs) ([]m.CheckResult, error)
	Diff(args DiffArgs) ([]m.DiffResult, error)
	Run(args RunArgs) (m.RunResult, error)
}

// CheckArgs selects the plans to check.
type CheckArgs struct {
	// Plans are plan files or directories, "dir/..." searching recursively.
	Plans []m.Path
	// Root is the source root. Empty means the directory of each plan.
	Root    m.Path
	Threads int
}

// DiffArgs selects the plan to diff.
type DiffArgs struct {
	Plan m.Path
	Root m.Path
}

// RunArgs selects the plan and the function to call.
type RunArgs struct {
	Plan     m.Path
	Root     m.Path
	Function string
	// Args are parsed according to the parameter types of Function.
	Args   []string
	Stdout io.Writer
}

// WorkflowConfig holds the settings shared by every plan.
type WorkflowConfig struct {
	// GoPath is used for plans that do not name one.
	GoPath    string
	Logger    *zap.Logger
	Persister *adapter.Persister
}

type workflow struct {
	fsAdapter adapter.SourceFSAdapter
	plans     adapter.PlanStore
	cfg       WorkflowConfig
}

// NewWorkflow creates a new Workflow instance with the provided adapters.
func NewWorkflow(fsAdapter adapter.SourceFSAdapter, plans adapter.PlanStore, cfg WorkflowConfig) Workflow {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &workflow{fsAdapter: fsAdapter, plans: plans, cfg: cfg}
}

// Check resolves every patch of every plan without installing anything.
// Plans are checked concurrently; a failing plan is reported in its
// CheckResult and does not stop the others.
func (w *workflow) Check(args CheckArgs) ([]m.CheckResult, error) {
	paths, err := w.fsAdapter.Get(args.Plans)
	if err != nil {
		return nil, err
	}

	threads := args.Threads
	if threads <= 0 {
		threads = 1
	}

	results := make([]m.CheckResult, len(paths))

	var g errgroup.Group

	g.SetLimit(threads)

	for i, path := range paths {
		i, path := i, path

		g.Go(func() error {
			reports, err := w.checkPlan(path, args.Root)
			results[i] = m.CheckResult{Plan: path, Reports: reports, Err: err}

			if err != nil {
				w.cfg.Logger.Debug("plan check failed", zap.String("plan", string(path)), zap.Error(err))
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func (w *workflow) checkPlan(path, root m.Path) ([]m.MatchReport, error) {
	plan, groups, err := w.loadPlan(path)
	if err != nil {
		return nil, err
	}

	rt, err := w.newRuntime(path, root, plan, io.Discard, hasFunctions(groups))
	if err != nil {
		return nil, err
	}

	var reports []m.MatchReport

	for _, g := range groups {
		out, err := g.preview(rt)
		if err != nil {
			return nil, err
		}

		for i, match := range out.Matches {
			reports = append(reports, m.MatchReport{
				Plan:    path,
				File:    w.planRelative(path, root, match.File),
				Target:  g.name(),
				Pattern: g.specs[i].Target.String(),
				Mode:    g.specs[i].Mode,
				Line:    match.Line,
				Text:    match.Text,
			})
		}
	}

	return reports, nil
}

// Diff returns the original and patched source of every target of a plan.
func (w *workflow) Diff(args DiffArgs) ([]m.DiffResult, error) {
	plan, groups, err := w.loadPlan(args.Plan)
	if err != nil {
		return nil, err
	}

	rt, err := w.newRuntime(args.Plan, args.Root, plan, io.Discard, hasFunctions(groups))
	if err != nil {
		return nil, err
	}

	var diffs []m.DiffResult

	for _, g := range groups {
		out, err := g.preview(rt)
		if err != nil {
			return nil, err
		}

		if g.function != "" {
			fn, err := rt.Func(g.function)
			if err != nil {
				return nil, err
			}

			text, file, _ := fn.Source()
			diffs = append(diffs, m.DiffResult{Target: g.function, File: file, Original: text + "\n", Patched: out.Text + "\n"})

			continue
		}

		files, err := rt.PackageSource(g.module)
		if err != nil {
			return nil, err
		}

		names := make([]string, 0, len(out.Files))
		for name := range out.Files {
			names = append(names, name)
		}

		sort.Strings(names)

		for _, name := range names {
			diffs = append(diffs, m.DiffResult{Target: g.module, File: name, Original: string(files[name]), Patched: string(out.Files[name])})
		}
	}

	for i := range diffs {
		unified, err := unifiedDiff(diffs[i])
		if err != nil {
			return nil, err
		}

		diffs[i].Unified = unified
	}

	return diffs, nil
}

func unifiedDiff(d m.DiffResult) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(d.Original),
		B:        difflib.SplitLines(d.Patched),
		FromFile: "a/" + d.File,
		ToFile:   "b/" + d.File,
		Context:  3,
	})
}

// Run loads the plan's program, activates the plan and calls a function of
// the program. Package patches are activated before the program is loaded
// because loading it imports them.
func (w *workflow) Run(args RunArgs) (result m.RunResult, err error) {
	result = m.RunResult{Plan: args.Plan, Function: args.Function}

	plan, groups, err := w.loadPlan(args.Plan)
	if err != nil {
		return result, err
	}

	if plan.Program == "" {
		return result, fmt.Errorf("plan %s has no program to call %s in", args.Plan, args.Function)
	}

	stdout := args.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	rt, err := w.newRuntime(args.Plan, args.Root, plan, stdout, false)
	if err != nil {
		return result, err
	}

	modules := NewSession(WithLogger(w.cfg.Logger))
	for _, g := range groups {
		if g.module != "" {
			modules.AddPatches(Module(rt, g.module), g.specs...)
		}
	}

	if modules.State() != StateEmpty || modules.Err() != nil {
		if err := modules.Activate(); err != nil {
			return result, err
		}

		defer func() {
			if derr := modules.Deactivate(); derr != nil {
				err = errors.Join(err, derr)
			}
		}()
	}

	if err := rt.Load(string(plan.Program)); err != nil {
		return result, err
	}

	funcs := NewSession(WithLogger(w.cfg.Logger))

	for _, g := range groups {
		if g.function == "" {
			continue
		}

		fn, err := rt.Func(g.function)
		if err != nil {
			return result, asUnpatchable(err, g.function)
		}

		funcs.AddPatches(Func(fn), g.specs...)
	}

	target, err := rt.Func(args.Function)
	if err != nil {
		return result, err
	}

	result.Args, err = parseArgs(target, args.Args)
	if err != nil {
		return result, err
	}

	call := func() error {
		values, err := target.Call(result.Args...)
		result.Values = values

		return err
	}

	if funcs.State() == StateEmpty && funcs.Err() == nil {
		return result, call()
	}

	return result, funcs.Run(call)
}

// parseArgs converts command line arguments to the parameter types of fn.
func parseArgs(fn *adapter.Function, raw []string) ([]any, error) {
	typ := fn.Unit().Value.Type()
	n := typ.NumIn()

	if (typ.IsVariadic() && len(raw) < n-1) || (!typ.IsVariadic() && len(raw) != n) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", fn.Name(), n, len(raw))
	}

	args := make([]any, len(raw))

	for i, s := range raw {
		var want reflect.Type
		if typ.IsVariadic() && i >= n-1 {
			want = typ.In(n - 1).Elem()
		} else {
			want = typ.In(i)
		}

		v, err := parseArg(want, s)
		if err != nil {
			return nil, fmt.Errorf("argument %d of %s: %w", i, fn.Name(), err)
		}

		args[i] = v
	}

	return args, nil
}

func parseArg(typ reflect.Type, s string) (any, error) {
	v := reflect.New(typ).Elem()

	switch typ.Kind() {
	case reflect.String:
		v.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, err
		}

		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 0, typ.Bits())
		if err != nil {
			return nil, err
		}

		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 0, typ.Bits())
		if err != nil {
			return nil, err
		}

		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, typ.Bits())
		if err != nil {
			return nil, err
		}

		v.SetFloat(f)
	default:
		return nil, fmt.Errorf("cannot pass %q as %s", s, typ)
	}

	return v.Interface(), nil
}

func (w *workflow) loadPlan(path m.Path) (m.Plan, []*planGroup, error) {
	plan, err := w.plans.LoadPlan(path)
	if err != nil {
		return m.Plan{}, nil, err
	}

	groups, err := groupPlan(plan)
	if err != nil {
		return m.Plan{}, nil, fmt.Errorf("plan %s: %w", path, err)
	}

	return plan, groups, nil
}

// sourceDir is the directory program and GOPATH are looked up in: root, or
// the plan's directory when root is empty.
func sourceDir(planPath, root m.Path) string {
	if root != "" {
		return string(root)
	}

	return filepath.Dir(string(planPath))
}

// planRelative returns file, a path under the source root, as seen from the
// directory of the plan. It is file itself when no such path exists.
func (w *workflow) planRelative(planPath, root m.Path, file string) string {
	if root == "" {
		return file
	}

	rel, err := w.fsAdapter.RelPath(m.Path(filepath.Dir(string(planPath))), w.fsAdapter.JoinPath(string(root), filepath.FromSlash(file)))
	if err != nil {
		return file
	}

	return filepath.ToSlash(string(rel))
}

// newRuntime creates the runtime a plan runs in. Program and GOPATH are
// looked up under root, or next to the plan when root is empty.
func (w *workflow) newRuntime(planPath, root m.Path, plan m.Plan, stdout io.Writer, load bool) (*adapter.Runtime, error) {
	dir := sourceDir(planPath, root)

	if info, err := w.fsAdapter.FileInfo(m.Path(dir)); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("source root %s is not a directory", dir)
	}

	if plan.Program != "" {
		program := w.fsAdapter.JoinPath(dir, filepath.FromSlash(string(plan.Program)))
		if _, err := w.fsAdapter.FileInfo(program); err != nil {
			return nil, fmt.Errorf("read program %s: %w", program, err)
		}
	}

	gopath := string(plan.GoPath)
	if gopath == "" {
		gopath = w.cfg.GoPath
	}

	rt, err := adapter.NewRuntime(adapter.RuntimeOptions{
		FS:        os.DirFS(dir),
		GoPath:    filepath.ToSlash(gopath),
		Stdout:    stdout,
		Stderr:    stdout,
		Logger:    w.cfg.Logger.With(zap.String("plan", string(planPath))),
		Persister: w.cfg.Persister,
	})
	if err != nil {
		return nil, err
	}

	if load && plan.Program != "" {
		if err := rt.Load(filepath.ToSlash(string(plan.Program))); err != nil {
			return nil, err
		}
	}

	return rt, nil
}

// planGroup holds the patches of a plan that share one target, in file
// order.
type planGroup struct {
	function string
	module   string
	specs    []PatchSpec
}

func (g *planGroup) name() string {
	if g.function != "" {
		return g.function
	}

	return g.module
}

func (g *planGroup) preview(rt *adapter.Runtime) (*Spliced, error) {
	if g.module != "" {
		out, err := PreviewModule(rt, g.module, g.specs)

		return out, withTarget(err, g.module)
	}

	fn, err := rt.Func(g.function)
	if err != nil {
		return nil, asUnpatchable(err, g.function)
	}

	out, err := PreviewFunction(fn, g.specs)

	return out, withTarget(err, g.function)
}

func groupPlan(plan m.Plan) ([]*planGroup, error) {
	var groups []*planGroup

	byKey := make(map[string]*planGroup)

	for i, p := range plan.Patches {
		spec, err := specFromPlan(p)
		if err != nil {
			return nil, fmt.Errorf("patch %d: %w", i, err)
		}

		key := "func " + p.Function
		if p.Module != "" {
			key = "module " + p.Module
		}

		g := byKey[key]
		if g == nil {
			g = &planGroup{function: p.Function, module: p.Module}
			byKey[key] = g
			groups = append(groups, g)
		}

		g.specs = append(g.specs, spec)
	}

	return groups, nil
}

func specFromPlan(p m.PlanPatch) (PatchSpec, error) {
	pattern, err := ParseTarget(p.Target)
	if err != nil {
		return PatchSpec{}, err
	}

	mode, err := m.ParseMode(p.Mode)
	if err != nil {
		return PatchSpec{}, err
	}

	return Spec(pattern, Source(p.Content), mode, WithImports(p.Imports...)), nil
}

func hasFunctions(groups []*planGroup) bool {
	for _, g := range groups {
		if g.function != "" {
			return true
		}
	}

	return false
}
