package main

import (
	"log"
	"os"

	hearthauth "github.com/Hearth-Social/hearth-go-realtime/hearth-auth"
	hearthcli "github.com/Hearth-Social/hearth-go-realtime/hearth-cli"
	hearthddb "github.com/Hearth-Social/hearth-go-realtime/hearth-ddb"
	hearthws "github.com/Hearth-Social/hearth-go-realtime/hearth-ws"
	"github.com/Hearth-Social/hearth-go-realtime/hearth-ws/connectiondao"
	"github.com/Hearth-Social/hearth-go-realtime/hearth-ws/memberdao"
	"github.com/Hearth-Social/hearth-go-realtime/hearth-ws/presencedao"
	"github.com/Hearth-Social/hearth-go-realtime/hearth-ws/publish"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/urfave/cli/v2"
)

var service = hearthcli.NewService("example-ws-handler")

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

	validator, err := hearthauth.BuildValidator(sess, hearthauth.SecretName(env))
	if err != nil {
		return err
	}

	presence := &hearthws.PresenceTracker{
		Store:  presencedao.Build(api, env),
		Logger: logger,
	}
	registry := &hearthws.Registry{
		Connections: connectiondao.Build(api, env),
		Presence:    presence,
		Logger:      logger,
	}

	members := memberdao.Build(api, env)
	events := publish.Build(env)
	metrics := hearthcli.NewMetrics(service, cloudwatch.New(sess))

	router := hearthws.NewRouter(logger)
	hearthws.RegisterChatRoutes(router, members, events, registry.Connections)

	handler := &hearthws.Handler{
		Registry: registry,
		Auth:     validator,
		Router:   router,
		Contacts: members,
		Events:   events,
		Logger:   logger,
		Metrics:  &metrics,
	}

	lambda.Start(handler.HandleEvent)
	return nil
}
