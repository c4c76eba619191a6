// Package main is the fisheye command line tool.
package main

import (
	"os"

	fisheyecli "go.viam.com/fisheye/cli"
	"go.viam.com/fisheye/logging"
)

func main() {
	app := fisheyecli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		logging.NewLogger("fisheye").Fatal(err)
	}
}
