// Command cmdgate gates shell commands behind regex rules, per-user credits
// and admin approval.
package main

import (
	"os"

	"github.com/Dicklesworthstone/cmdgate/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
