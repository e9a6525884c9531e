package engine

import (
	"strconv"
)

// helperArgv prefixes cmd with the run-init helper and its limit flags.
func helperArgv(cfg Config, limits Limits, cmd []string) []string {
	if cfg.HelperPath == "" {
		return cmd
	}
	argv := []string{cfg.HelperPath}
	add := func(flag string, v int64) {
		if v > 0 {
			argv = append(argv, flag, strconv.FormatInt(v, 10))
		}
	}
	add("-cpu", limits.CPUSeconds)
	add("-mem", limits.MemoryMB)
	add("-stack", limits.StackMB)
	add("-fsize", limits.FileSizeMB)
	add("-nproc", limits.PIDs)
	if cfg.SeccompProfile != "" {
		argv = append(argv, "-seccomp", cfg.SeccompProfile)
	}
	argv = append(argv, "--")
	return append(argv, cmd...)
}
