package main

import (
	"os"

	"recordpipe/internal/cli"
)

func main() {
	os.Exit(int(cli.Run()))
}
