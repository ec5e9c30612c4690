// Command cmine mines merge conflicts from git repositories.
package main

import (
	"os"

	"github.com/mergelab/cmine/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
