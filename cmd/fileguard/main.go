// fileguard — host-resident tamper detection for control-plane files.
package main

import (
	"github.com/joho/godotenv"

	"github.com/avekseev/fileguard/internal/cli"
)

func main() {
	// Optional .env for local development; production uses real env vars.
	_ = godotenv.Load()

	cli.Execute()
}
