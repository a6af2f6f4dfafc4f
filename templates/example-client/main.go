package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"

	hearthcli "github.com/Hearth-Social/hearth-go-realtime/hearth-cli"
	hearthclient "github.com/Hearth-Social/hearth-go-realtime/hearth-client"
	hearthws "github.com/Hearth-Social/hearth-go-realtime/hearth-ws"
	"github.com/urfave/cli/v2"
)

var opts struct {
	URL   string
	Token string
	Chat  string
}

var service = hearthcli.NewService("example-client")

func main() {
	app := hearthcli.App(
		service,
		action,
		append(
			hearthcli.CommonFlags,
			hearthcli.StringFlag("url", "realtime gateway endpoint", &opts.URL, "ws://localhost:5002"),
			hearthcli.StringFlag("token", "bearer credential for the handshake", &opts.Token),
			hearthcli.StringFlag("chat", "chat to subscribe to after connecting", &opts.Chat),
		)...,
	)
	err := app.Run(os.Args)
	if err != nil {
		log.Fatalln(err)
	}
}

func action(cliCtx *cli.Context) error {
	logger := hearthcli.Logger(service)

	client := hearthclient.New(hearthclient.Config{
		URL:    opts.URL,
		Token:  opts.Token,
		Logger: logger,
	})

	// Chat subscriptions are server-side session state and vanish with the
	// connection, so they are replayed on every (re)connect.
	client.OnReconnect = func(ctx context.Context) {
		if opts.Chat == "" {
			return
		}
		if err := client.Send(hearthws.TypeChatSubscribe, hearthws.SubscribePayload{ChatID: opts.Chat}); err != nil {
			logger.Warn().Err(err).Msg("failed to resubscribe")
		}
	}

	for _, eventType := range []string{
		hearthws.EventMessageSent,
		hearthws.EventUserTyping,
		hearthws.EventUserOnline,
		hearthws.EventUserOffline,
	} {
		eventType := eventType
		client.On(eventType, func(data json.RawMessage) {
			logger.Info().Str("type", eventType).RawJSON("data", data).Msg("event")
		})
	}

	if err := client.Connect(cliCtx.Context); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig
	return client.Close()
}
