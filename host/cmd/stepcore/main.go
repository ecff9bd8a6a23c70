// stepcore drives the motion core from the host: it simulates jobs on a
// virtual clock, streams them to a controller, and checks kinematics.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
