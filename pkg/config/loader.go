package config

import (
	"os"
	"path/filepath"

	"github.com/kkyr/fig"
)

const EnvPrefix = "MATCH_CLIENT"

const fileName = "config.yaml"

// LoadConfig loads a configuration file into the given struct.
// The path param specifies a custom path to the configuration file.
// Reads and puts environment variables with the prefix MATCH_CLIENT_.
// Params from the config should be in uppercase separated with _.
func LoadConfig(config any, path string) error {
	dirs := []string{path}
	if path == "" {
		dirs = append(dirs, ".", "configs", "../../configs")
		if home, err := os.UserHomeDir(); err == nil {
			dirs = append(dirs, filepath.Join(home, ".matchclient"))
		}
	}
	return fig.Load(config, fig.File(fileName), fig.Dirs(dirs...), fig.UseEnv(EnvPrefix))
}

