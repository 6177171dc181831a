package main

import (
	"os"

	"github.com/dungeon-io/dungeon/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
