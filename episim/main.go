// Command episim runs agent-based disease progression simulations.
package main

import "github.com/sarchlab/episim/episim/cmd"

func main() {
	cmd.Execute()
}
