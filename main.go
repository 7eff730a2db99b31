package main

import (
	"os"

	"sshdeck/cli"
)

func main() {
	os.Exit(cli.Execute())
}
