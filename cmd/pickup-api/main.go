package main

import (
	"context"

	"github.com/rs/zerolog/log"
)

func main() {
	app := mustBootstrapPickupAPI()
	defer app.Close()

	if err := app.Run(); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("pickup-api stopped")
	}
}
