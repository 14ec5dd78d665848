package main

import (
	"context"
	"fmt"
	"os"

	"filingctl/internal/cli"
)

func main() {
	app := &cli.App{}
	root := cli.NewRootCmd(app)

	err := root.ExecuteContext(context.Background())
	if cerr := app.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
