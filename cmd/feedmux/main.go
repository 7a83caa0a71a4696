package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if err := NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
