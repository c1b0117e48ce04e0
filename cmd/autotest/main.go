// Command autotest inspects ELF executables for the test cases a linked
// autotest harness would discover.
package main

import (
	"fmt"
	"os"

	"github.com/coral-mesh/autotest/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
