// The main package for the mediagrab executable.
package main

import (
	"github.com/chrisdogtn/RedditGrabber-sub000/cmd"
)

func main() {
	cmd.Execute()
}
