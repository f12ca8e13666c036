// cmd/main.go is the application entry point.
package main

import (
	"os"

	"github.com/Shivanand-hulikatti/event-waitlist/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
