// Package main provides the entry point for the mnemd daemon.
package main

import (
	"os"

	"github.com/alessandrobrunoh/mnemosyne/cmd/mnemd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
