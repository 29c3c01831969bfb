package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(*cobra.Command, []string) {
		fmt.Printf("%s %s (%s/%s)\n", bold("nexus"), version, runtime.GOOS, runtime.GOARCH)
	},
}
