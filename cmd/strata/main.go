// Command strata reads and writes strata records from the shell.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(connectDynamo).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
