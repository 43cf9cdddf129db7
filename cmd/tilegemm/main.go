// Command tilegemm multiplies two constant-filled square matrices on the
// default accelerator and prints the top-left corner of the result.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
