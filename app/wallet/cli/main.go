package main

import (
	"github.com/novachain/novad/app/wallet/cli/cmd"
)

func main() {
	cmd.Execute()
}
