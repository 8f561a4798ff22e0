package cmd

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/studycord/studybot/studybot"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the StudyBot discord bot and backend API",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			bot, err := studybot.New(cfg)
			if err != nil {
				log.Fatalf("error creating studybot: %s", err.Error())
			}

			if err = bot.Run(ctx); err != nil {
				log.Fatalf("error running studybot: %s", err.Error())
			}
		},
	}
)

func init() {
	rootCmd.AddCommand(runCmd)
}
