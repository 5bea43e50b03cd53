// v1
// cmd/farmtech/main.go
package main

import (
	"errors"
	"io/fs"
	"log"
	"os"

	dotenv "github.com/joho/godotenv"
)

func main() {
	if err := dotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("failed to load .env file: %v", err)
	}

	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
