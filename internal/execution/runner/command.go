package runner

import (
	"strings"

	appErr "livecode/pkg/errors"

	"github.com/google/shlex"
)

// buildCommand splits a command template into argv and expands the
// placeholders per field, so workspace paths never need quoting.
func buildCommand(tpl string, ws *Workspace) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.ConfigurationError).WithMessage("command template is required")
	}
	fields, err := shlex.Split(tpl)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ConfigurationError, "parse command template failed")
	}
	replacer := strings.NewReplacer(
		"{src}", ws.SourcePath,
		"{bin}", ws.BinaryPath,
		"{dir}", ws.Dir,
		"{class}", ws.ClassName,
	)
	argv := make([]string, 0, len(fields))
	for _, f := range fields {
		if v := replacer.Replace(f); v != "" {
			argv = append(argv, v)
		}
	}
	if len(argv) == 0 {
		return nil, appErr.New(appErr.ConfigurationError).WithMessage("command is empty after expansion")
	}
	return argv, nil
}

// templateBinary returns the executable a template invokes, or "" when it
// runs a build output ({bin}) that only exists after compiling.
func templateBinary(tpl string) string {
	fields, err := shlex.Split(tpl)
	if err != nil || len(fields) == 0 {
		return ""
	}
	if strings.Contains(fields[0], "{") {
		return ""
	}
	return fields[0]
}
