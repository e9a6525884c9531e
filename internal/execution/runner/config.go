package runner

import (
	"time"

	"livecode/internal/execution/engine"
)

// Language identifies one runner variant.
type Language string

const (
	LanguageC      Language = "c"
	LanguageCpp    Language = "cpp"
	LanguageJava   Language = "java"
	LanguagePython Language = "python"
)

// Languages lists every supported variant.
var Languages = []Language{LanguageC, LanguageCpp, LanguageJava, LanguagePython}

// LanguageConfig describes how to compile and run one language.
// Templates accept {src}, {bin}, {dir} and {class}.
type LanguageConfig struct {
	CompileCmdTpl  string   `yaml:"compileCmdTpl"`
	RunCmdTpl      string   `yaml:"runCmdTpl"`
	Env            []string `yaml:"env"`
	SourceFile     string   `yaml:"sourceFile"`
	BinaryFile     string   `yaml:"binaryFile"`
	TimeMultiplier float64  `yaml:"timeMultiplier"`
	// MemoryMB overrides the deployment memory limit, e.g. for the JVM.
	MemoryMB int64 `yaml:"memoryMB"`
}

// Config holds the deployment-wide runner settings.
type Config struct {
	WorkRoot           string                      `yaml:"workRoot"`
	CompileTimeout     time.Duration               `yaml:"compileTimeout"`
	MaxCompileLogBytes int64                       `yaml:"maxCompileLogBytes"`
	KillGrace          time.Duration               `yaml:"killGrace"`
	Limits             engine.Limits               `yaml:"limits"`
	Languages          map[Language]LanguageConfig `yaml:"languages"`
}

// DefaultLanguages returns the stock toolchain templates.
func DefaultLanguages() map[Language]LanguageConfig {
	return map[Language]LanguageConfig{
		LanguageC: {
			CompileCmdTpl:  "gcc -O2 -std=c11 -o {bin} {src} -lm",
			RunCmdTpl:      "{bin}",
			SourceFile:     "main.c",
			BinaryFile:     "main",
			TimeMultiplier: 1,
		},
		LanguageCpp: {
			CompileCmdTpl:  "g++ -O2 -std=c++17 -o {bin} {src}",
			RunCmdTpl:      "{bin}",
			SourceFile:     "main.cpp",
			BinaryFile:     "main",
			TimeMultiplier: 1,
		},
		LanguageJava: {
			CompileCmdTpl:  "javac -d {dir} {src}",
			RunCmdTpl:      "java -cp {dir} {class}",
			TimeMultiplier: 2,
		},
		LanguagePython: {
			RunCmdTpl:      "python3 -u {src}",
			SourceFile:     "main.py",
			TimeMultiplier: 1,
		},
	}
}

// ApplyDefaults fills zero fields and merges missing language entries.
func (c *Config) ApplyDefaults() {
	if c.WorkRoot == "" {
		c.WorkRoot = "/tmp/livecode/runs"
	}
	if c.CompileTimeout == 0 {
		c.CompileTimeout = 10 * time.Second
	}
	if c.MaxCompileLogBytes == 0 {
		c.MaxCompileLogBytes = 64 << 10
	}
	if c.KillGrace == 0 {
		c.KillGrace = 500 * time.Millisecond
	}
	defaults := DefaultLanguages()
	if c.Languages == nil {
		c.Languages = make(map[Language]LanguageConfig, len(defaults))
	}
	for lang, def := range defaults {
		cur, ok := c.Languages[lang]
		if !ok {
			c.Languages[lang] = def
			continue
		}
		if cur.CompileCmdTpl == "" && lang != LanguagePython {
			cur.CompileCmdTpl = def.CompileCmdTpl
		}
		if cur.RunCmdTpl == "" {
			cur.RunCmdTpl = def.RunCmdTpl
		}
		if cur.SourceFile == "" {
			cur.SourceFile = def.SourceFile
		}
		if cur.BinaryFile == "" {
			cur.BinaryFile = def.BinaryFile
		}
		if cur.TimeMultiplier <= 0 {
			cur.TimeMultiplier = def.TimeMultiplier
		}
		c.Languages[lang] = cur
	}
}
