package hearthws

import (
	hearthcli "github.com/Hearth-Social/hearth-go-realtime/hearth-cli"
	"github.com/urfave/cli/v2"
)

var StreamOpts struct {
	StreamName string
	Replay     bool
}

var StreamNameFlag = hearthcli.StringFlag("stream-name", "The events stream to read records from", &StreamOpts.StreamName)
var ReplayFlag = hearthcli.BoolFlag("replay", "Whether to replay the stream from the beginning, or start from the next message", &StreamOpts.Replay)

var StreamFlags = []cli.Flag{
	StreamNameFlag,
	ReplayFlag,
}
