// Package config implements Component H: parsing (and, on first run,
// bootstrapping) ~/.threatstack.conf, with environment variable fallback for
// credentials and the fan-out worker count. Grounded on the original
// tsctl.py's config_parse, translated into gopkg.in/ini.v1 idioms.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"

	"github.com/emmeowzing/threatstack-rule-manager/pkg/errkind"
)

const (
	defaultLogLevel  = "INFO"
	defaultStateDir  = ".threatstack"
	defaultStateFile = ".threatstack.state.json"
	defaultBaseURL   = "https://api.threatstack.example/v2"

	defaultConfigBody = `[RUNTIME]
LOGLEVEL = DEBUG

[STATE]
STATE_DIR = .threatstack
STATE_FILE = .threatstack.state.json
`
)

// Config is the fully resolved runtime configuration: everything the CLI
// needs to locate its state, set its log level, and authenticate to the
// remote platform.
type Config struct {
	LogLevel string

	// StateDir is resolved under the user's home directory and StateFile
	// under StateDir, so the state file sits inside the state tree.
	StateDir  string
	StateFile string

	BaseURL string
	UserID  string
	APIKey  string

	// Workers is REMOTE_THREAD_CT from the environment; 0 or 1 disables
	// fan-out (SPEC_FULL.md §5/§6).
	Workers int
}

// Load reads ~/.threatstack.conf, writing a default file first if one is not
// already present, and resolves credentials from the CREDENTIALS section or
// (if absent) the USER_ID/API_KEY environment variables. A missing
// credential in both places is reported as errkind.ErrConfigInvalid rather
// than the source's os.exit(1), since this is a library-shaped entry point.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.Wrap(err, "resolve home directory")
	}
	return load(home)
}

func load(home string) (*Config, error) {
	confPath := filepath.Join(home, ".threatstack.conf")

	if _, err := os.Stat(confPath); os.IsNotExist(err) {
		if err := os.WriteFile(confPath, []byte(defaultConfigBody), 0o644); err != nil {
			return nil, errors.Wrapf(err, "write default config %s", confPath)
		}
	}

	file, err := ini.Load(confPath)
	if err != nil {
		return nil, errors.Wrapf(err, "parse config %s", confPath)
	}

	cfg := &Config{
		LogLevel:  defaultLogLevel,
		StateDir:  defaultStateDir,
		StateFile: defaultStateFile,
		BaseURL:   defaultBaseURL,
	}

	if runtime := file.Section("RUNTIME"); runtime != nil {
		cfg.LogLevel = runtime.Key("LOGLEVEL").MustString(defaultLogLevel)
		cfg.BaseURL = runtime.Key("BASE_URL").MustString(defaultBaseURL)
	}
	if state := file.Section("STATE"); state != nil {
		cfg.StateDir = state.Key("STATE_DIR").MustString(defaultStateDir)
		cfg.StateFile = state.Key("STATE_FILE").MustString(defaultStateFile)
	}
	cfg.StateDir = filepath.Join(home, cfg.StateDir)
	cfg.StateFile = filepath.Join(cfg.StateDir, cfg.StateFile)

	if creds, err := file.GetSection("CREDENTIALS"); err == nil {
		userID := creds.Key("USER_ID").String()
		apiKey := creds.Key("API_KEY").String()
		if userID == "" || apiKey == "" {
			return nil, errors.Wrapf(errkind.ErrConfigInvalid,
				"must set USER_ID and API_KEY in %s under [CREDENTIALS]", confPath)
		}
		cfg.UserID, cfg.APIKey = userID, apiKey
	} else {
		userID, apiKeyOK := os.LookupEnv("USER_ID")
		apiKey, userIDOK := os.LookupEnv("API_KEY")
		if !apiKeyOK || !userIDOK || userID == "" || apiKey == "" {
			return nil, errors.Wrapf(errkind.ErrConfigInvalid,
				"must set USER_ID and API_KEY in the environment or in %s under [CREDENTIALS]", confPath)
		}
		cfg.UserID, cfg.APIKey = userID, apiKey
	}

	cfg.Workers = workersFromEnv()

	return cfg, nil
}

// workersFromEnv reads REMOTE_THREAD_CT; any value that doesn't parse as a
// positive integer >= 2 disables fan-out, matching SPEC_FULL.md §6.
func workersFromEnv() int {
	raw, ok := os.LookupEnv("REMOTE_THREAD_CT")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 2 {
		return 0
	}
	return n
}
