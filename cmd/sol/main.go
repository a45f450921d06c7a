// Package main provides the entry point for the sol CLI.
package main

import (
	"github.com/colthorp/sol-cli-go/internal/cli"
)

func main() {
	cli.Execute()
}
