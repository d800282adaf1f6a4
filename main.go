// The main package for the feedpoller executable.
package main

import (
	"github.com/JakeFAU/feedpoller/cmd"
)

func main() {
	cmd.Execute()
}
