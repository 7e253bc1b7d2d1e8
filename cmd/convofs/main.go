// Command convofs mounts a read-only view of a directory that
// convolves each FLAC, WAV or OGG file it serves through a
// user-selected FIR filter.
package main

import (
	"fmt"
	"os"

	"github.com/convofs/convofs/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
