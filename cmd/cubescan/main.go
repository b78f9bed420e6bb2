// Package main is the entry point for the cubescan CLI binary.
package main

import (
	"os"

	cli "cube-sql/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
