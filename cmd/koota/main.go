package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/digitraceslab/koota/internal/adapters"
	"github.com/digitraceslab/koota/internal/apikey"
	"github.com/digitraceslab/koota/internal/authorization"
	"github.com/digitraceslab/koota/internal/clock"
	"github.com/digitraceslab/koota/internal/config"
	"github.com/digitraceslab/koota/internal/configmerge"
	"github.com/digitraceslab/koota/internal/device"
	"github.com/digitraceslab/koota/internal/group"
	"github.com/digitraceslab/koota/internal/ingest"
	"github.com/digitraceslab/koota/internal/logger"
	"github.com/digitraceslab/koota/internal/migration"
	"github.com/digitraceslab/koota/internal/observability"
	"github.com/digitraceslab/koota/internal/ratelimit"
	"github.com/digitraceslab/koota/internal/rawdata"
	"github.com/digitraceslab/koota/internal/safehash"
	"github.com/digitraceslab/koota/internal/scraper"
	"github.com/digitraceslab/koota/internal/server"
	"github.com/digitraceslab/koota/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		safehash.Module,

		// Functional Domains
		device.Module,
		rawdata.Module,
		group.Module,
		ratelimit.Module,
		configmerge.Module,
		ingest.Module,
		authorization.Module,
		apikey.Module,

		// Adapters register before the server mounts their routes.
		adapters.Module,
		scraper.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
