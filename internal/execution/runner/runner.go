// Package runner compiles and launches student programs, one variant per language.
package runner

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"sort"
	"strings"

	"livecode/internal/execution/engine"
	appErr "livecode/pkg/errors"
	"livecode/pkg/utils/logger"

	"go.uber.org/zap"
)

// CompileResult is the outcome of a compile step.
type CompileResult struct {
	OK       bool
	ExitCode int
	Log      string
	TimedOut bool
}

// Adapter is one language variant. It is resolved once per session.
type Adapter struct {
	lang   Language
	cfg    LanguageConfig
	runCfg *Config
	eng    engine.Engine
}

// Language returns the variant tag.
func (a *Adapter) Language() Language { return a.lang }

// NeedsCompile reports whether the variant has a compile step.
func (a *Adapter) NeedsCompile() bool { return strings.TrimSpace(a.cfg.CompileCmdTpl) != "" }

// TimeMultiplier scales the wall-clock deadline for this language.
func (a *Adapter) TimeMultiplier() float64 {
	if a.cfg.TimeMultiplier <= 0 {
		return 1
	}
	return a.cfg.TimeMultiplier
}

// FileExtension returns the source file extension, including the dot.
func (a *Adapter) FileExtension() string {
	switch a.lang {
	case LanguageC:
		return ".c"
	case LanguageCpp:
		return ".cpp"
	case LanguageJava:
		return ".java"
	default:
		return ".py"
	}
}

// Prepare materializes source into a fresh workspace owned by sessionID.
func (a *Adapter) Prepare(sessionID, source string) (*Workspace, error) {
	sourceName := a.cfg.SourceFile
	className := ""
	if a.lang == LanguageJava {
		// javac requires the file name to match the public class.
		className = javaClassName(source)
		sourceName = className + a.FileExtension()
	}
	if sourceName == "" {
		sourceName = "main" + a.FileExtension()
	}
	return createWorkspace(a.runCfg.WorkRoot, sessionID, sourceName, a.cfg.BinaryFile, className, source)
}

// Compile runs the compile step with its own wall budget.
// It returns nil for languages without a compile step.
func (a *Adapter) Compile(ctx context.Context, ws *Workspace) (*CompileResult, error) {
	if !a.NeedsCompile() {
		return nil, nil
	}
	argv, err := buildCommand(a.cfg.CompileCmdTpl, ws)
	if err != nil {
		return nil, err
	}

	compileCtx, cancel := context.WithTimeout(ctx, a.runCfg.CompileTimeout)
	defer cancel()

	res, err := engine.Collect(compileCtx, a.eng, engine.Spec{
		ID:      ws.SessionID + "-compile",
		Cmd:     argv,
		Env:     a.env(),
		WorkDir: ws.Dir,
	}, a.runCfg.MaxCompileLogBytes, a.runCfg.KillGrace)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ExecutionSystemError, "start compiler failed")
	}

	out := &CompileResult{ExitCode: res.Exit.Code, Log: string(res.Output)}
	switch {
	case res.TimedOut && ctx.Err() == nil:
		out.TimedOut = true
		out.Log = "compilation timed out"
	case res.TimedOut:
		return nil, ctx.Err()
	default:
		out.OK = res.Exit.Code == 0 && !res.Exit.Signaled
	}
	if res.Truncated {
		out.Log += "\n[compile log truncated]"
	}
	return out, nil
}

// Launch starts the program. The caller owns the returned process.
func (a *Adapter) Launch(ctx context.Context, ws *Workspace) (engine.Process, error) {
	argv, err := buildCommand(a.cfg.RunCmdTpl, ws)
	if err != nil {
		return nil, err
	}
	limits := a.runCfg.Limits
	if a.cfg.MemoryMB > 0 {
		limits.MemoryMB = a.cfg.MemoryMB
	}
	limits.CPUSeconds = scaleLimit(limits.CPUSeconds, a.TimeMultiplier())

	proc, err := a.eng.Start(ctx, engine.Spec{
		ID:        ws.SessionID,
		Cmd:       argv,
		Env:       a.env(),
		WorkDir:   ws.Dir,
		Limits:    limits,
		Sandboxed: true,
	})
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ExecutionSystemError, "launch program failed")
	}
	return proc, nil
}

func (a *Adapter) env() []string {
	base := []string{"PATH=" + os.Getenv("PATH"), "LANG=C.UTF-8", "HOME=/tmp"}
	return append(base, a.cfg.Env...)
}

func scaleLimit(value int64, multiplier float64) int64 {
	if value <= 0 {
		return 0
	}
	if multiplier <= 0 {
		return value
	}
	return int64(math.Ceil(float64(value) * multiplier))
}

// Set is the fixed collection of language variants.
type Set struct {
	cfg         Config
	adapters    map[Language]*Adapter
	unavailable map[Language]string
	lookPath    func(string) (string, error)
}

// NewSet builds every configured variant on eng.
func NewSet(cfg Config, eng engine.Engine) (*Set, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	cfg.ApplyDefaults()
	s := &Set{
		cfg:         cfg,
		adapters:    make(map[Language]*Adapter, len(Languages)),
		unavailable: make(map[Language]string),
		lookPath:    exec.LookPath,
	}
	for _, lang := range Languages {
		langCfg, ok := cfg.Languages[lang]
		if !ok {
			continue
		}
		s.adapters[lang] = &Adapter{lang: lang, cfg: langCfg, runCfg: &s.cfg, eng: eng}
	}
	return s, nil
}

// CheckToolchains resolves the executable of every template and marks
// languages whose toolchain is missing as unavailable. It fails only when no
// language is usable at all.
func (s *Set) CheckToolchains(ctx context.Context) error {
	for lang, a := range s.adapters {
		for _, tpl := range []string{a.cfg.CompileCmdTpl, a.cfg.RunCmdTpl} {
			bin := templateBinary(tpl)
			if bin == "" {
				continue
			}
			if _, err := s.lookPath(bin); err != nil {
				s.unavailable[lang] = fmt.Sprintf("%s not found", bin)
				logger.Warn(ctx, "toolchain unavailable",
					zap.String("language", string(lang)),
					zap.String("binary", bin),
					zap.Error(err))
				break
			}
		}
	}
	if len(s.Available()) == 0 {
		return appErr.New(appErr.ConfigurationError).WithMessage("no language toolchain is available")
	}
	logger.Info(ctx, "toolchains checked", zap.Strings("available", s.Available()))
	return nil
}

// Available lists the usable languages in sorted order.
func (s *Set) Available() []string {
	out := make([]string, 0, len(s.adapters))
	for lang := range s.adapters {
		if _, down := s.unavailable[lang]; !down {
			out = append(out, string(lang))
		}
	}
	sort.Strings(out)
	return out
}

// Resolve returns the adapter for language.
func (s *Set) Resolve(language string) (*Adapter, error) {
	lang := Language(strings.ToLower(strings.TrimSpace(language)))
	a, ok := s.adapters[lang]
	if !ok {
		return nil, appErr.UnsupportedLanguageError(language)
	}
	if reason, down := s.unavailable[lang]; down {
		return nil, appErr.Newf(appErr.ConfigurationError, "language %s is unavailable: %s", lang, reason).
			WithDetail("language", string(lang))
	}
	return a, nil
}
