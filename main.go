package main

import (
	"os"

	"github.com/adalundhe/diffuse/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
