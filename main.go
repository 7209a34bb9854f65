// The main package for the imgharvest executable.
package main

import (
	"github.com/JakeFAU/imgharvest/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
