package main

import (
	"log"
	"os"

	hearthcli "github.com/Hearth-Social/hearth-go-realtime/hearth-cli"
	hearthddb "github.com/Hearth-Social/hearth-go-realtime/hearth-ddb"
	hearthws "github.com/Hearth-Social/hearth-go-realtime/hearth-ws"
	"github.com/Hearth-Social/hearth-go-realtime/hearth-ws/memberdao"
	"github.com/Hearth-Social/hearth-go-realtime/hearth-ws/presencedao"
	"github.com/Hearth-Social/hearth-go-realtime/hearth-ws/publish"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/urfave/cli/v2"
)

var service = hearthcli.NewService("example-reaper")

func main() {
	app := hearthcli.App(
		service,
		action,
		append(
			hearthcli.CommonFlags,
			hearthddb.DDBFlags...,
		)...,
	)
	err := app.Run(os.Args)
	if err != nil {
		log.Fatalln(err)
	}
}

func action(_ *cli.Context) error {
	logger := hearthcli.Logger(service)
	env := hearthcli.CommonOpts.Env

	sess := session.Must(session.NewSession(aws.NewConfig()))
	api, err := hearthddb.DynamoDBAPI(sess)
	if err != nil {
		return err
	}

	metrics := hearthcli.NewMetrics(service, cloudwatch.New(sess))
	reaper := &hearthws.Reaper{
		Presence: &hearthws.PresenceTracker{
			Store:  presencedao.Build(api, env),
			Logger: logger,
		},
		Contacts: memberdao.Build(api, env),
		Events:   publish.Build(env),
		Logger:   logger,
		Metrics:  &metrics,
	}
	return reaper.Handler(service).Start()
}
