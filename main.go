// The main package for the webcat executable.
package main

import (
	"github.com/JakeFAU/webcat-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
