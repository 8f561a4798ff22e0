package main

import (
	"github.com/studycord/studybot/cmd"
)

func main() {
	cmd.Execute()
}
