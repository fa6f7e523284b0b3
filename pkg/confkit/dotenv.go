package confkit

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
)

var dotenvOnce sync.Once

// LoadDotenvOnce loads .env files found between this package and the
// repository root. The first call does the work; later calls are no-ops.
// Existing environment variables win unless DOTENV_OVERLOAD=1 is set, and
// NO_DOTENV=1 disables loading entirely.
func LoadDotenvOnce() {
	dotenvOnce.Do(loadDotenv)
}

func loadDotenv() {
	if os.Getenv("NO_DOTENV") == "1" {
		return
	}

	apply := godotenv.Load
	if os.Getenv("DOTENV_OVERLOAD") == "1" {
		apply = godotenv.Overload
	}

	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		_ = apply(envFile)
		return
	}

	if _, ok := ascend(func(dir string) bool {
		_ = apply(filepath.Join(dir, ".env"))
		return isRoot(dir)
	}); ok {
		return
	}

	_ = apply(".env")
}
