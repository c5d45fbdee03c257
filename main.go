// Command labflow drives laboratory testing units through their workflow
// stations.
package main

import "labflow/internal/cli"

func main() {
	cli.Execute()
}
