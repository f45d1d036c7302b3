package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "coach"}

	root.AddCommand(serveCMD(), runCMD(), ingestCMD(), migrateCMD())
	_ = root.Execute()
}
