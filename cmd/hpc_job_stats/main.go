package main

import (
	"fmt"
	"os"

	"github.com/hpc-data-analysis/hpcstats/pkg/stats/cli"
)

// Main entry point for `hpc_job_stats` app
func main() {
	// Create a new app
	HPCJobStats, err := cli.NewHPCJobStats()
	if err != nil {
		panic("Failed to create an instance of HPC Job Stats App")
	}

	// Main entrypoint of the app
	if err := HPCJobStats.Main(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
