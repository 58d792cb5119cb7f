// main.go - Einstiegspunkt des mlxserve CLI
package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mlxserve/mlxserve/cmd"
)

func main() {
	cobra.CheckErr(cmd.NewCLI().ExecuteContext(context.Background()))
}
