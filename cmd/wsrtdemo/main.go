// Command wsrtdemo is an interactive driver for the runtime: it
// connects to a configured endpoint, drives the Client facade, and
// renders live metrics. It is not part of the core library; the core
// is consumed by importing the client package directly.
package main

import (
	"fmt"
	"os"

	"github.com/webitel/ws-client-runtime/cmd/wsrtdemo/internal/demo"
)

func main() {
	if err := demo.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
