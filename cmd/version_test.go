package cmd

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/studycord/studybot/studybot"
)

func TestVersionCommand(t *testing.T) {
	originalVersion := studybot.Version
	originalCommitSHA := studybot.CommitSHA
	originalBuildTime := studybot.BuildTime

	t.Cleanup(
		func() {
			studybot.Version = originalVersion
			studybot.CommitSHA = originalCommitSHA
			studybot.BuildTime = originalBuildTime
		},
	)

	studybot.Version = "1.0.0"
	studybot.CommitSHA = "abc123"
	studybot.BuildTime = "2023-10-01T12:00:00Z"

	orig := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	t.Cleanup(
		func() {
			os.Stdout = orig
		},
	)

	// Capture the output
	versionCmd.Run(nil, nil)

	_ = w.Close()

	out, _ := io.ReadAll(r)
	output := string(out)
	t.Logf("output: %s", string(out))
	expected := fmt.Sprintf(
		"studybot %s (commit %s, built %s, %s %s/%s)\n",
		studybot.Version,
		studybot.CommitSHA,
		studybot.BuildTime,
		runtime.Version(),
		runtime.GOOS,
		runtime.GOARCH,
	)
	assert.Equal(t, expected, output)
}
