package confkit

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
)

var dotenvOnce sync.Once

// LoadDotenvOnce reads .env files into the process environment the first time
// it is called. Behaviour is tuned by:
//
//	NO_DOTENV=1        skip loading entirely
//	ENV_FILE=path      load only this file
//	DOTENV_OVERLOAD=1  let .env values replace variables already set
//
// Without ENV_FILE every .env from this package up to the module root is
// loaded, nearest first, so inner files win.
func LoadDotenvOnce() {
	dotenvOnce.Do(loadDotenv)
}

func loadDotenv() {
	if os.Getenv("NO_DOTENV") == "1" {
		return
	}

	load := godotenv.Load
	if os.Getenv("DOTENV_OVERLOAD") == "1" {
		load = godotenv.Overload
	}

	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		_ = load(envFile)
		return
	}

	dirs := sourceDirs()
	if len(dirs) == 0 {
		_ = load(".env")
		return
	}
	for _, dir := range dirs {
		if p := filepath.Join(dir, ".env"); fileExists(p) {
			_ = load(p)
		}
	}
}
