// Command mender runs workflow templates against the engine from the command
// line and inspects how templates normalize and render.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
