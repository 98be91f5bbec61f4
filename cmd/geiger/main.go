package main

import (
	"os"

	"github.com/luhtfiimanal/go-geiger/cmd/geiger/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
