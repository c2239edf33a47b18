package main

import (
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	dig_container "github.com/trezcool/fieldops/apps/api/di/dig"
	echoapi "github.com/trezcool/fieldops/apps/api/echo"
	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/schedule"
	logsvc "github.com/trezcool/fieldops/services/logger"
)

func startWithDig() {
	c := dig_container.New("API")

	must(c.Invoke(func(
		conf *core.Config,
		logger *logsvc.Logger,
		dbLoggerParam dig_container.DBLoggerParam,
		db *sqlx.DB,
		rdb *redis.Client,
		server *echoapi.Server,
		dispatcher *schedule.Dispatcher,
		resetter *schedule.UsageResetter,
	) {
		defer logger.Close()
		if db != nil {
			defer func() {
				if err := db.Close(); err != nil {
					dbLoggerParam.Logger.Error("Failed to close", err)
				}
			}()
		}
		if rdb != nil {
			defer func() { _ = rdb.Close() }()
		}

		run(app{
			conf:       conf,
			logger:     logger,
			server:     server,
			dispatcher: dispatcher,
			resetter:   resetter,
		})
	}))
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
