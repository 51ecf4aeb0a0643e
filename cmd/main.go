package main

import (
	"fmt"
	"os"

	"github.com/veerananda/billgenie-sync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "billgenie:", err)
		os.Exit(1)
	}
}
