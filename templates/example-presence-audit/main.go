package main

import (
	"context"
	"log"
	"os"

	hearthcli "github.com/Hearth-Social/hearth-go-realtime/hearth-cli"
	hearthcron "github.com/Hearth-Social/hearth-go-realtime/hearth-cron"
	hearthddb "github.com/Hearth-Social/hearth-go-realtime/hearth-ddb"
	hearthws "github.com/Hearth-Social/hearth-go-realtime/hearth-ws"
	"github.com/Hearth-Social/hearth-go-realtime/hearth-ws/connectiondao"
	"github.com/Hearth-Social/hearth-go-realtime/hearth-ws/memberdao"
	"github.com/Hearth-Social/hearth-go-realtime/hearth-ws/presencedao"
	"github.com/Hearth-Social/hearth-go-realtime/hearth-ws/publish"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/urfave/cli/v2"
)

var service = hearthcli.NewService("example-presence-audit")

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

	presence := presencedao.Build(api, env)
	metrics := hearthcli.NewMetrics(service, cloudwatch.New(sess))
	auditor := &hearthws.PresenceAuditor{
		Registry: &hearthws.Registry{
			Connections: connectiondao.Build(api, env),
			Presence:    &hearthws.PresenceTracker{Store: presence, Logger: logger},
			Logger:      logger,
		},
		Store:    presence,
		Contacts: memberdao.Build(api, env),
		Events:   publish.Build(env),
		Logger:   logger,
		Metrics:  &metrics,
	}

	handler := hearthcron.NewHandler(service, func(ctx context.Context) error {
		return auditor.Run(ctx)
	})
	return handler.Start()
}
