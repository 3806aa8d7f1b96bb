package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// ErrInsecurePermissions is returned when the credentials file is readable
// by anyone but its owner.
var ErrInsecurePermissions = fmt.Errorf("credentials file has insecure permissions")

// Credentials holds secrets kept out of crawler.toml.
//
//	[redis]
//	password = "..."
type Credentials struct {
	Redis struct {
		Password string `toml:"password"`
	} `toml:"redis"`
}

// RedisPassword returns the Redis password, or "" for nil credentials.
func (c *Credentials) RedisPassword() string {
	if c == nil {
		return ""
	}
	return c.Redis.Password
}

// CredentialPaths returns the credential file locations in order of priority.
func CredentialPaths() []string {
	paths := []string{"credentials.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "crawlkit", "credentials.toml"))
	}
	return paths
}

// LoadCredentials loads the first credentials file found. No file is not an error.
func LoadCredentials() (*Credentials, string, error) {
	for _, path := range CredentialPaths() {
		if _, err := os.Stat(path); err == nil {
			creds, err := LoadCredentialsFile(path)
			return creds, path, err
		}
	}
	return nil, "", nil
}

// LoadCredentialsFile loads credentials from path, which must have mode 0400
// on Unix systems.
func LoadCredentialsFile(path string) (*Credentials, error) {
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if mode := info.Mode().Perm(); mode != 0400 {
			return nil, fmt.Errorf("%w: %s has mode %04o (must be 0400)",
				ErrInsecurePermissions, path, mode)
		}
	}

	var creds Credentials
	if _, err := toml.DecodeFile(path, &creds); err != nil {
		return nil, fmt.Errorf("credentials: %s: %w", path, err)
	}
	return &creds, nil
}
