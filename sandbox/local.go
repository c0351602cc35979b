package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
)

// bootstrap runs the submitted program with an allow-listed builtin set. Program
// text arrives on stdin, the comma separated deny list as argv[1].
//
// The guarded import replaces builtins.__import__ for the whole process and only
// filters imports issued from the program's own globals, so stdlib modules keep
// loading their dependencies. Modules handed to the program are wrapped in a
// view that refuses private names and denied submodules. Private attribute
// access and frame traversal are rejected on the syntax tree before exec.
const bootstrap = `import ast, builtins, sys, types

def _sandbox(denied, allowed, src):
    real_import = builtins.__import__
    blocked = {__BLOCKED__}

    def check(name, attr):
        if attr and (name.startswith("_") or name in blocked):
            raise PermissionError("access to '%s' is not allowed" % name)
        if not attr and name.startswith("__") and name != "__name__":
            raise PermissionError("use of '%s' is not allowed" % name)

    tree = ast.parse(src, "<code>")
    for node in ast.walk(tree):
        if isinstance(node, ast.Attribute):
            check(node.attr, True)
        elif isinstance(node, ast.Name):
            check(node.id, False)
        elif isinstance(node, ast.alias):
            for part in node.name.split("."):
                if part != "*":
                    check(part, True)

    class ModuleView(object):
        __slots__ = ("_m",)

        def __init__(self, m):
            object.__setattr__(self, "_m", m)

        def __getattr__(self, name):
            m = object.__getattribute__(self, "_m")
            if name.startswith("_") and name not in ("__all__", "__name__"):
                raise AttributeError("attribute '%s' is not allowed" % name)
            v = getattr(m, name)
            if isinstance(v, types.ModuleType):
                if v.__name__.split(".")[0] in denied:
                    raise AttributeError("module '%s' is not allowed" % v.__name__)
                return ModuleView(v)
            return v

        def __setattr__(self, name, value):
            raise AttributeError("modules are read-only")

    user_globals = {"__name__": "__main__"}

    def guarded_import(name, globals=None, locals=None, fromlist=(), level=0):
        if globals is not user_globals:
            return real_import(name, globals, locals, fromlist, level)
        if level or name.split(".")[0] in denied:
            raise ImportError("import of '%s' is not allowed" % name)
        return ModuleView(real_import(name, globals, locals, fromlist, level))

    safe = {n: getattr(builtins, n) for n in allowed if hasattr(builtins, n)}
    safe["__import__"] = guarded_import
    user_globals["__builtins__"] = safe
    builtins.__import__ = guarded_import
    code = compile(tree, "<code>", "exec")
    exec(code, user_globals)

_sandbox(frozenset(n for n in sys.argv[1].split(",") if n), (__ALLOWED__), sys.stdin.read())
`

// allowedBuiltins is the builtin surface user code can reach. getattr, type and
// the introspection builtins stay out since they resolve attributes by string.
var allowedBuiltins = []string{
	"abs", "all", "any", "ascii", "bin", "bool", "bytearray", "bytes", "callable", "chr",
	"dict", "divmod", "enumerate", "filter", "float", "format", "frozenset",
	"hasattr", "hash", "hex", "int", "isinstance", "issubclass", "iter", "len", "list",
	"map", "max", "min", "next", "object", "oct", "ord", "pow", "print", "range", "repr",
	"reversed", "round", "set", "slice", "sorted", "str", "sum", "tuple", "zip",
	"Exception", "ValueError", "TypeError", "KeyError", "IndexError", "ImportError",
	"RuntimeError", "StopIteration", "ZeroDivisionError", "ArithmeticError", "AttributeError",
	"True", "False", "None", "__build_class__",
}

// blockedAttributes reach interpreter frames from generators, coroutines and
// tracebacks.
var blockedAttributes = []string{
	"gi_frame", "gi_code", "cr_frame", "cr_code", "ag_frame", "ag_code",
	"f_back", "f_globals", "f_locals", "f_builtins", "f_code", "tb_frame", "tb_next",
}

// baselineDeniedImports are refused whatever the configured deny list says:
// each one hands out the unrestricted builtins, arbitrary imports by name or
// code execution outside the guarded globals.
var baselineDeniedImports = []string{
	"builtins", "importlib", "gc", "inspect", "types", "operator", "string",
	"pickle", "marshal", "shelve", "copyreg", "code", "codeop", "runpy", "pkgutil",
	"zipimport", "timeit", "pdb", "unittest", "doctest", "logging", "asyncio",
	"concurrent", "io", "pathlib", "tempfile", "posix", "nt",
}

func pyList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = fmt.Sprintf("%q", n)
	}
	return strings.Join(quoted, ", ") + ","
}

// mergeDenied returns the configured deny list extended with the baseline.
func mergeDenied(configured []string) []string {
	out := append([]string(nil), configured...)
	for _, n := range baselineDeniedImports {
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}

// LocalBackend runs python code in a child process group that is killed when
// the context ends.
type LocalBackend struct {
	python   string
	denied   []string
	maxBytes int
	logger   *zap.Logger
}

// NewLocalBackend creates a LocalBackend.
func NewLocalBackend(pythonPath string, deniedImports []string, maxOutputBytes int, logger *zap.Logger) *LocalBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pythonPath == "" {
		pythonPath = "python3"
	}
	return &LocalBackend{
		python:   pythonPath,
		denied:   mergeDenied(deniedImports),
		maxBytes: maxOutputBytes,
		logger:   logger.With(zap.String("backend", "local")),
	}
}

func (b *LocalBackend) Name() string { return string(ModeLocal) }

// Run implements Backend.
func (b *LocalBackend) Run(ctx context.Context, req *Request) (*Result, error) {
	if req.Language != LangPython {
		return nil, fmt.Errorf("local backend does not support %s", req.Language)
	}

	script := strings.NewReplacer(
		"__ALLOWED__", pyList(allowedBuiltins),
		"__BLOCKED__", pyList(blockedAttributes),
	).Replace(bootstrap)

	cmd := exec.CommandContext(ctx, b.python, "-I", "-c", script, strings.Join(b.denied, ","))
	cmd.Stdin = strings.NewReader(req.Code)
	cmd.Env = []string{"LC_ALL=C.UTF-8", "PATH=" + os.Getenv("PATH"), "HOME=" + os.Getenv("HOME")}
	stdout := &limitedBuffer{max: b.maxBytes}
	stderr := &limitedBuffer{max: b.maxBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	isolate(cmd)
	cmd.WaitDelay = 500 * time.Millisecond

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctx.Err() != nil {
		b.logger.Warn("code process killed", zap.Duration("elapsed", res.Duration), zap.Error(ctx.Err()))
		return res, ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, fmt.Errorf("%w: start interpreter: %v", ErrUnavailable, err)
	}
	return res, nil
}

// limitedBuffer keeps at most max bytes and silently drops the rest so a
// chatty process cannot exhaust memory.
type limitedBuffer struct {
	buf bytes.Buffer
	max int
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	if l.max > 0 {
		if room := l.max - l.buf.Len(); room < len(p) {
			if room > 0 {
				l.buf.Write(p[:room])
			}
			return len(p), nil
		}
	}
	return l.buf.Write(p)
}

func (l *limitedBuffer) String() string { return l.buf.String() }
