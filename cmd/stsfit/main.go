// Package main is the entry point for the stsfit CLI tool.
package main

import (
	"github.com/hargabyte/stsfit/internal/cmd"
)

func main() {
	cmd.Execute()
}
