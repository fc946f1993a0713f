package helper

import (
	"os"
	"path/filepath"
)

const (
	// DefaultConfigDir is the last place GetCfgPath looks for a configuration file
	DefaultConfigDir = "/etc/oauthd"
	// DefaultPIDFile is used when no usable PID path is configured
	DefaultPIDFile = "/var/run/oauthd.pid"
)

// GetCfgPath returns the path to the configuration file.
//
// Priority:
// 1. If filename is an absolute path, return it directly.
// 2. Check ./{filename} and ./configs/{filename}
// 3. Otherwise, fallback to /etc/oauthd/{filename}
func GetCfgPath(filename string) string {
	if filename == "" {
		panic("filename cannot be empty")
	}

	if filepath.IsAbs(filename) {
		return filename
	}

	for _, dir := range []string{"", "configs"} {
		if p := existingUnderCwd(filepath.Join(dir, filename)); p != "" {
			return p
		}
	}

	return filepath.Join(DefaultConfigDir, filename)
}

// GetPIDPath returns the path to the PID file. Relative names resolve under the
// working directory when their parent directory exists.
func GetPIDPath(filename string) string {
	if filename == "" {
		return DefaultPIDFile
	}
	if filepath.IsAbs(filename) {
		return filename
	}

	cwd, err := os.Getwd()
	if err != nil || cwd == "" {
		return DefaultPIDFile
	}
	absPath, err := filepath.Abs(filepath.Join(cwd, filename))
	if err != nil {
		return DefaultPIDFile
	}
	if _, err := os.Stat(filepath.Dir(absPath)); err != nil {
		return DefaultPIDFile
	}
	return absPath
}

func existingUnderCwd(rel string) string {
	cwd, err := os.Getwd()
	if err != nil || cwd == "" {
		return ""
	}
	candidate := filepath.Join(cwd, rel)
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	absPath, err := filepath.Abs(candidate)
	if err != nil {
		return ""
	}
	return absPath
}
