package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/studycord/studybot/studybot"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the application",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf(
			"studybot %s (commit %s, built %s, %s %s/%s)\n",
			studybot.Version,
			studybot.CommitSHA,
			studybot.BuildTime,
			runtime.Version(),
			runtime.GOOS,
			runtime.GOARCH,
		)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
