package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aide-chat/aide/internal/toolkit"
)

const maxReadBytes = 64 * 1024

// FileTools returns the filesystem tools confined to root: read_file,
// write_file, and list_files. Paths escaping the root are rejected.
func FileTools(root string) []toolkit.NativeFunction {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	ft := &fileTools{root: abs}
	return []toolkit.NativeFunction{
		{
			Name:        "read_file",
			Description: "Read a text file under the workspace root.",
			Required: []toolkit.Param{
				{Name: "path", Type: toolkit.TypeString, Description: "Path relative to the workspace root."},
			},
			Fn: ft.read,
		},
		{
			Name:        "write_file",
			Description: "Write text to a file under the workspace root, creating parent directories.",
			Required: []toolkit.Param{
				{Name: "path", Type: toolkit.TypeString},
				// Writing an empty file is legitimate.
				{Name: "content", Type: toolkit.TypeString, AllowEmpty: true},
			},
			Fn: ft.write,
		},
		{
			Name:        "list_files",
			Description: "List directory entries under the workspace root.",
			Optional: []toolkit.Param{
				{Name: "path", Type: toolkit.TypeString, Description: "Directory relative to the workspace root. Defaults to the root."},
			},
			Fn: ft.list,
		},
	}
}

type fileTools struct {
	root string
}

// resolve joins a relative path onto the root and refuses escapes.
func (ft *fileTools) resolve(raw string) (string, error) {
	cleaned := filepath.Clean("/" + raw)
	full := filepath.Join(ft.root, cleaned)
	if full != ft.root && !strings.HasPrefix(full, ft.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace root", raw)
	}
	return full, nil
}

func (ft *fileTools) read(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	full, err := ft.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", err
	}
	if len(data) > maxReadBytes {
		return string(data[:maxReadBytes]) + "\n[truncated]", nil
	}
	return string(data), nil
}

func (ft *fileTools) write(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	full, err := ft.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
}

func (ft *fileTools) list(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	full, err := ft.resolve(path)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "(empty directory)", nil
	}
	return strings.Join(names, "\n"), nil
}
