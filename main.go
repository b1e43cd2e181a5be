// The main package for the lenscrawl executable.
package main

import (
	"github.com/JakeFAU/lenscrawl/cmd"
)

func main() {
	cmd.Execute()
}
