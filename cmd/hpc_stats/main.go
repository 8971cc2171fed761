package main

import (
	"fmt"
	"os"

	"github.com/hpc-data-analysis/hpcstats/pkg/stats/cli"
)

// Main entry point for `hpc_stats` app
func main() {
	// Create a new app
	HPCStats, err := cli.NewHPCStats()
	if err != nil {
		panic("Failed to create an instance of HPC Stats App")
	}

	// Main entrypoint of the app
	if err := HPCStats.Main(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
