package runner

import (
	"os"
	"path/filepath"

	appErr "livecode/pkg/errors"
)

// Workspace is the per-session directory holding the source and build output.
type Workspace struct {
	SessionID  string
	Dir        string
	SourcePath string
	BinaryPath string
	// ClassName is the Java entry class; empty for other languages.
	ClassName string
}

// Remove deletes the workspace directory and everything in it.
func (w *Workspace) Remove() error {
	if w == nil || w.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(w.Dir); err != nil {
		return appErr.WorkspaceFailure(err, "remove")
	}
	return nil
}

func createWorkspace(root, sessionID, sourceName, binaryName, className, source string) (*Workspace, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, appErr.WorkspaceFailure(err, "create root")
	}
	dir, err := os.MkdirTemp(root, sessionID+"-*")
	if err != nil {
		return nil, appErr.WorkspaceFailure(err, "create")
	}
	ws := &Workspace{
		SessionID:  sessionID,
		Dir:        dir,
		SourcePath: filepath.Join(dir, sourceName),
		ClassName:  className,
	}
	if binaryName != "" {
		ws.BinaryPath = filepath.Join(dir, binaryName)
	}
	if err := os.WriteFile(ws.SourcePath, []byte(source), 0o600); err != nil {
		_ = os.RemoveAll(dir)
		return nil, appErr.WorkspaceFailure(err, "write source")
	}
	return ws, nil
}
