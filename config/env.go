package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads local environment overlays in priority order:
// .env.local (highest) then .env (lowest), leaving already-set
// process environment variables untouched. Missing files are not an
// error; only a read/parse failure on a file that does exist is.
func LoadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("config: failed to load %s: %w", file, err)
		}
	}
	return nil
}

// RequireAPIKeys checks every configured LLM's required API key
// environment variable, returning the names of every provider whose
// key is missing. The cmd/engine callers report a non-empty list as a
// plain error that carries no errs code (AGENT_API_KEY_MISSING is not
// raised on this path).
func RequireAPIKeys(cfg *Config) []string {
	var missing []string
	for name, llm := range cfg.LLMs {
		if envVar, present := llm.RequiredAPIKey(); envVar != "" && !present {
			missing = append(missing, name)
		}
	}
	return missing
}
