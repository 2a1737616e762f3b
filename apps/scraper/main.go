package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/digitraceslab/koota/internal/adapters"
	"github.com/digitraceslab/koota/internal/clock"
	"github.com/digitraceslab/koota/internal/config"
	"github.com/digitraceslab/koota/internal/configmerge"
	"github.com/digitraceslab/koota/internal/device"
	"github.com/digitraceslab/koota/internal/group"
	"github.com/digitraceslab/koota/internal/ingest"
	"github.com/digitraceslab/koota/internal/logger"
	"github.com/digitraceslab/koota/internal/observability"
	"github.com/digitraceslab/koota/internal/ratelimit"
	"github.com/digitraceslab/koota/internal/rawdata"
	"github.com/digitraceslab/koota/internal/safehash"
	"github.com/digitraceslab/koota/internal/scraper"
	"github.com/digitraceslab/koota/pkg/db"
	"go.uber.org/fx"
)

// The scraper runs on its own when the HTTP server is scaled out, so only
// one process talks to the remote services.
func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		safehash.Module,

		// Domain services required by the adapters
		device.Module,
		rawdata.Module,
		group.Module,
		ratelimit.Module,
		configmerge.Module,
		ingest.Module,
		adapters.Module,

		// No server module!
		scraper.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
