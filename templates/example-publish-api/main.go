package main

import (
	"log"
	"os"

	hearthcli "github.com/Hearth-Social/hearth-go-realtime/hearth-cli"
	hearthrest "github.com/Hearth-Social/hearth-go-realtime/hearth-rest"
	"github.com/Hearth-Social/hearth-go-realtime/hearth-ws/publish"
	"github.com/go-chi/chi/v5"
	"github.com/urfave/cli/v2"
)

var service = hearthcli.NewService("example-publish-api")

func main() {
	app := hearthcli.App(
		service,
		action,
		append(
			hearthcli.CommonFlags,
			hearthcli.PortFlag(5001),
		)...,
	)
	err := app.Run(os.Args)
	if err != nil {
		log.Fatalln(err)
	}
}

func action(_ *cli.Context) error {
	routes := chi.NewRouter()
	hearthrest.Middlewares(service, routes)
	hearthrest.PublishRoutes(routes, publish.Build(hearthcli.CommonOpts.Env))

	return hearthrest.Webserver(service, routes)
}
