// The main package for the favicond executable.
package main

import (
	"github.com/JakeFAU/favicon-edge/cmd"
)

func main() {
	cmd.Execute()
}
