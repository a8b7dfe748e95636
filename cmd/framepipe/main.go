package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/tanukai/framepipe/internal/cli"
)

func main() {
	// Optional .env with local defaults (worker paths, journal location).
	// Absence is the normal case.
	_ = godotenv.Load()

	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(cli.GetExitCode(err))
	}
}
