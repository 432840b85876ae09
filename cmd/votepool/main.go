// Command votepool operates deposit-backed voting rounds on a local ledger.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/votepool/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "votepool:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
