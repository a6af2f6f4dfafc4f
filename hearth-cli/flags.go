package hearthcli

import (
	"strings"

	"github.com/urfave/cli/v2"
)

var CommonOpts struct {
	Console bool
	Dry     bool
	Env     string
	Port    int
}

var ConsoleFlag = cli.BoolFlag{
	Name:        "console",
	Usage:       "whether to run in console mode or lambda mode",
	Value:       false,
	EnvVars:     []string{"CONSOLE"},
	Destination: &CommonOpts.Console,
}
var DryFlag = cli.BoolFlag{
	Name:        "dry",
	Usage:       "whether to actually persist any records or not",
	Value:       false,
	EnvVars:     []string{"DRY"},
	Destination: &CommonOpts.Dry,
}
var EnvFlag = cli.StringFlag{
	Name:        "env",
	Usage:       "environment",
	Value:       "local",
	EnvVars:     []string{"ENV"},
	Destination: &CommonOpts.Env,
}
var PortFlag = func(p int) *cli.IntFlag {
	return &cli.IntFlag{
		Name:        "port",
		Usage:       "Port to listen to, if running locally",
		Value:       p,
		EnvVars:     []string{"PORT"},
		Destination: &CommonOpts.Port,
	}
}

// StringFlag builds a string flag bound to dest, with an optional default value.
func StringFlag(name, usage string, dest *string, value ...string) *cli.StringFlag {
	flag := &cli.StringFlag{
		Name:        name,
		Usage:       usage,
		EnvVars:     []string{envVar(name)},
		Destination: dest,
	}
	if len(value) > 0 {
		flag.Value = value[0]
	}
	return flag
}

// BoolFlag builds a bool flag bound to dest.
func BoolFlag(name, usage string, dest *bool) *cli.BoolFlag {
	return &cli.BoolFlag{
		Name:        name,
		Usage:       usage,
		EnvVars:     []string{envVar(name)},
		Destination: dest,
	}
}

// IntFlag builds an int flag bound to dest, with an optional default value.
func IntFlag(name, usage string, dest *int, value ...int) *cli.IntFlag {
	flag := &cli.IntFlag{
		Name:        name,
		Usage:       usage,
		EnvVars:     []string{envVar(name)},
		Destination: dest,
	}
	if len(value) > 0 {
		flag.Value = value[0]
	}
	return flag
}

func envVar(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

var CommonFlags = []cli.Flag{
	&ConsoleFlag,
	&DryFlag,
	&EnvFlag,
}
