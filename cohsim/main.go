// Command cohsim runs memory traces through a directory coherence protocol.
package main

import (
	"github.com/tebeka/atexit"

	"github.com/sarchlab/cohsim/cohsim/cmd"
)

func main() {
	atexit.Exit(cmd.Execute())
}
