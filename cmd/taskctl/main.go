package main

import (
	"os"

	"github.com/makermatrix/taskctl/cmd/taskctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
