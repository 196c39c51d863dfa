// Command infoscape aggregates public channel feeds into topical pages.
package main

import (
	"os"

	_ "time/tzdata"

	"github.com/ppiankov/infoscape/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
