package main

import (
	"os"

	"github.com/Jammarkeun/PawfectFinds/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
