// Package cli contains the fisheye command line application.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

const (
	configFlag  = "config"
	debugFlag   = "debug"
	ticksFlag   = "ticks"
	logFileFlag = "log-file"
	watchFlag   = "watch"
	schemaFlag  = "schema"
)

var app = &cli.App{
	Name:            "fisheye",
	Usage:           "run a synthetic fisheye camera sensor",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    debugFlag,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
	},
	Commands: []*cli.Command{
		{
			Name:      "run",
			Usage:     "unwrap cube-map captures into fisheye frames on a fixed tick",
			UsageText: "fisheye run [--config FILE] [--ticks N] [other options]",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    configFlag,
					Aliases: []string{"c"},
					Usage:   "load sensor configuration from `FILE`",
				},
				&cli.Uint64Flag{
					Name:  ticksFlag,
					Usage: "stop after this many ticks (0 runs until interrupted)",
				},
				&cli.StringFlag{
					Name:  logFileFlag,
					Usage: "also write logs to `FILE`, rotating it as it grows",
				},
				&cli.BoolFlag{
					Name:  watchFlag,
					Usage: "reconfigure the sensor when the config file changes",
				},
			},
			Action: RunAction,
		},
		{
			Name:  "definition",
			Usage: "print the attributes the fisheye camera accepts",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  schemaFlag,
					Usage: "print the resolved parameters as a JSON schema instead of a table",
				},
			},
			Action: DefinitionAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
