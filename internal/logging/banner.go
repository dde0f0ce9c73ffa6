package logging

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
)

// ANSI color codes.
const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	cyan   = "\033[36m"
	green  = "\033[32m"
	dim    = "\033[2m"
)

// Logo lines — Caduceus ASCII art (a staff with two serpents, simplified).
var logoLines = [6]string{
	`   ___          _                          `,
	`  / __|__ _  __| |_  _ __ ___ _  _ ___      `,
	` | (__/ _` + "`" + ` |/ _` + "`" + ` | || / _/ -_) || (_-<      `,
	`  \___\__,_|\__,_|\_,_\__\___|\_,_/__/      `,
	`                                             `,
	`               gateway                      `,
}

// PrintBanner prints the Caduceus ASCII art logo. Below the art it prints
// the version and the channels that were started. Colors are used only
// when stderr is a TTY.
func PrintBanner(ver, channels string) {
	color := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

	for i := 0; i < 6; i++ {
		if color {
			fmt.Fprintf(os.Stderr, "%s%s%s\n", bold+cyan, logoLines[i], reset)
		} else {
			fmt.Fprintf(os.Stderr, "%s\n", logoLines[i])
		}
	}

	if color {
		fmt.Fprintf(os.Stderr, "\n  %sversion%s %s   %schannels%s %s\n\n",
			dim, reset, ver, dim, reset, channels)
	} else {
		fmt.Fprintf(os.Stderr, "\n  version %s   channels %s\n\n", ver, channels)
	}
}
