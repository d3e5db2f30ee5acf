package main

import (
	"os"

	"github.com/hive-corporation/dfir-engine/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
