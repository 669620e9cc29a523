package localexec

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// ErrHelperNotFound is returned when no helper executable can be located.
var ErrHelperNotFound = errors.New("helper executable not found")

// Locate finds the helper executable. A command containing a path separator
// is resolved against workDir; a bare name is looked up in workDir, the
// user's ~/.local/bin, /usr/local/bin and finally PATH.
func Locate(command, workDir string) (string, error) {
	if command == "" {
		return "", fmt.Errorf("%w: no helper command configured", ErrHelperNotFound)
	}

	if filepath.IsAbs(command) || filepath.Base(command) != command {
		p := command
		if !filepath.IsAbs(p) && workDir != "" {
			p = filepath.Join(workDir, p)
		}
		if isExecutable(p) {
			return p, nil
		}
		return "", fmt.Errorf("%w: %s", ErrHelperNotFound, p)
	}

	var dirs []string
	if workDir != "" {
		dirs = append(dirs, workDir)
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".local", "bin"))
	}
	if runtime.GOOS != "windows" {
		dirs = append(dirs, "/usr/local/bin")
	}
	for _, dir := range dirs {
		for _, name := range candidates(command) {
			if p := filepath.Join(dir, name); isExecutable(p) {
				return p, nil
			}
		}
	}

	if p, err := exec.LookPath(command); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("%w: %s", ErrHelperNotFound, command)
}

func candidates(name string) []string {
	if runtime.GOOS == "windows" && filepath.Ext(name) == "" {
		return []string{name + ".exe", name + ".bat", name + ".cmd"}
	}
	return []string{name}
}

func isExecutable(p string) bool {
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0o111 != 0
}
