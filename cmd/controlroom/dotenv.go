// ABOUTME: Loads KEY=VALUE pairs from a .env file into the process environment via godotenv.
// ABOUTME: Existing environment variables win; a missing file is silently ignored.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// loadDotEnv reads path and sets any variable not already present in the
// environment. Parse errors are reported on stderr but never fatal.
func loadDotEnv(path string) {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: %s: %v\n", path, err)
	}
}
