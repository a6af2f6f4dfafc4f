package hearthddb

import (
	hearthcli "github.com/Hearth-Social/hearth-go-realtime/hearth-cli"
	"github.com/urfave/cli/v2"
)

var DDBOpts struct {
	DAXCluster string
	Region     string
	TableName  string
}

var DAXClusterFlag = hearthcli.StringFlag("dax-cluster", "The DAX cluster to connect to", &DDBOpts.DAXCluster)
var RegionFlag = hearthcli.StringFlag("region", "The AWS region for the DAX cluster", &DDBOpts.Region, "us-east-2")
var TableNameFlag = hearthcli.StringFlag("table-name", "The table name to read streams from", &DDBOpts.TableName)

var DDBFlags = []cli.Flag{
	DAXClusterFlag,
	RegionFlag,
	TableNameFlag,
}
