// Command registryctl talks to a registryd server. It resolves the server
// through service discovery, or uses --endpoint directly.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
