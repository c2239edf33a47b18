// Command worker delivers due reminders and resets the monthly usage of tenants
// whose billing cycle ended. Run it when the API is started with the scheduler not embedded.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/fieldops/appfs"
	dig_container "github.com/trezcool/fieldops/apps/api/di/dig"
	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/schedule"
	logsvc "github.com/trezcool/fieldops/services/logger"
)

func main() {
	c := dig_container.New("WORKER")

	err := c.Invoke(func(
		conf *core.Config,
		logger *logsvc.Logger,
		db *sqlx.DB,
		rdb *redis.Client,
		dispatcher *schedule.Dispatcher,
		resetter *schedule.UsageResetter,
	) {
		defer logger.Close()
		if db != nil {
			defer db.Close()
		}
		if rdb != nil {
			defer rdb.Close()
		}

		logger.Info(fmt.Sprintf("Worker initializing : version %q", conf.Build))
		defer logger.Info("Worker stopped")

		core.ParseEmailTemplates(conf, appfs.FS, logger)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			dispatcher.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			resetter.Run(ctx)
		}()

		<-ctx.Done()
		logger.Info("Start shutdown...")
		wg.Wait()
	})
	if err != nil {
		log.Fatal(err)
	}
}
