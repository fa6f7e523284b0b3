package confkit

import (
	"os"
	"path/filepath"
	"runtime"
)

// maxAscent bounds the upward walk so a misplaced checkout cannot loop to /.
const maxAscent = 8

// ResolvePath expands environment variables in file and, when it is
// relative, anchors it at base. Config files reference their siblings this
// way regardless of the working directory the binary started in.
func ResolvePath(base, file string) string {
	file = os.ExpandEnv(file)
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(base, file)
}

// ProjectRoot locates the repository root by walking up from this source
// file until a directory contains go.mod or .git. When the walk fails the
// working directory is returned, so callers degrade to relative paths.
func ProjectRoot() (string, error) {
	if root, ok := ascend(func(dir string) bool { return isRoot(dir) }); ok {
		return root, nil
	}
	return os.Getwd()
}

// ProjectPath joins the repository root with rel.
func ProjectPath(rel string) (string, error) {
	root, err := ProjectRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, rel), nil
}

// ascend walks up from the directory of this source file, invoking visit on
// each level, and returns the first directory visit accepts.
func ascend(visit func(dir string) bool) (string, bool) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", false
	}
	dir := filepath.Dir(file)
	for i := 0; i < maxAscent; i++ {
		if visit(dir) {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

func isRoot(dir string) bool {
	return fileExists(filepath.Join(dir, "go.mod")) || fileExists(filepath.Join(dir, ".git"))
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
