package main

import (
	"github.com/spf13/cobra"

	robin "github.com/robinmsg/robin"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version info",
	Long:  `Every software has a version. This is robin's`,
	Run: func(cmd *cobra.Command, args []string) {
		logVersion()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func logVersion() {
	mainlog.WithField("version", robin.Version).
		WithField("buildTime", robin.BuildTime).
		WithField("commit", robin.Commit).
		Info("robind")
}
