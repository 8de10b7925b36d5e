package main

import (
	"fmt"
	"os"

	"github.com/ChristianF88/heimdall/cli"
)

func main() {
	if err := cli.App.Run(os.Args); err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
}
