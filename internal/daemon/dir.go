package daemon

import (
	"path/filepath"
)

// ConfigPath is the path to the configuration file in use, set by cmd/imapd
// at startup. Relative paths elsewhere in the configuration are resolved
// against its directory.
var ConfigPath string

// DataDir is the configured maildir/data root, set by cmd/imapd at startup.
var DataDir string

// ConfigDirPath returns the path to "f". Either f itself when absolute, or
// interpreted relative to the directory of the current config file.
func ConfigDirPath(f string) string {
	return configDirPath(ConfigPath, f)
}

// DataDirPath returns the path to "f". Either f itself when absolute, or
// interpreted relative to the configured data directory.
func DataDirPath(f string) string {
	return dataDirPath(ConfigPath, DataDir, f)
}

// configDirPath returns f interpreted relative to the directory of the
// config file. f is returned unchanged when absolute.
func configDirPath(configFile, f string) string {
	if filepath.IsAbs(f) {
		return f
	}
	return filepath.Join(filepath.Dir(configFile), f)
}

// dataDirPath returns f interpreted relative to the data directory, which
// itself is interpreted relative to the directory of the config file. f is
// returned unchanged when absolute.
func dataDirPath(configFile, dataDir, f string) string {
	if filepath.IsAbs(f) {
		return f
	}
	return filepath.Join(configDirPath(configFile, dataDir), f)
}
