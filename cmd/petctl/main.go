// Command petctl is the operator tool for the pet simulation backend.
package main

import (
	"os"

	"petsim/cmd/petctl/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
