// Package main is the entry point for the azure-cost-report CLI.
package main

import (
	"os"

	"github.com/zgpcy/azure-cost-report/cmd/azure-cost-report/cmd"
)

func main() {
	os.Exit(cmd.Run(os.Stderr))
}
