package main

import (
	"os"

	"modelprobe/internal/cli"
)

func main() { os.Exit(cli.Main()) }
