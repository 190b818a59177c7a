package main

import (
	"os"

	"github.com/adalundhe/biofeedback/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
