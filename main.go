// The main package for the gfd executable.
package main

import (
	"github.com/JakeFAU/gfd-crawler/cmd"
)

func main() {
	cmd.Execute()
}
