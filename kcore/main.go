// Command kcore boots simulated kernels to run scenarios, stress tests and a
// live monitor.
package main

import "github.com/sarchlab/kcore/kcore/cmd"

func main() {
	cmd.Execute()
}
