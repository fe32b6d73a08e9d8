package main

import (
	"os"

	"github.com/tomochart/guestlist/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
