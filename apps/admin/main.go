package main

import (
	"context"
	"fmt"
	"os"

	dig_container "github.com/trezcool/fieldops/apps/api/di/dig"
	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/user"
	"github.com/trezcool/fieldops/storage/database"
)

func main() {
	conf := core.NewConfig()
	logger := dig_container.NewLogger("ADMIN", conf)

	code := 0
	defer func() {
		logger.Close()
		os.Exit(code)
	}()

	// set up DB, without migrating: that is the job of `migrate`
	cli := commandLine{logger: logger}
	if conf.Database.Engine != dig_container.EngineMemory {
		ctx := context.Background()
		if err := database.CreateIfNotExist(ctx, conf); err != nil {
			logger.Error(fmt.Sprintf("creating database: %v", err), err)
			code = 1
			return
		}
		db, err := database.Open(ctx, conf)
		if err != nil {
			logger.Error(fmt.Sprintf("opening database: %v", err), err)
			code = 1
			return
		}
		defer db.Close()
		cli.db = db.DB
		wire(&cli, conf, dig_container.NewRepositories(db))
	} else {
		wire(&cli, conf, dig_container.NewRepositories(nil))
	}

	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		code = 1
	}
}

// wire sets up the services used by the commands. Usage warnings are not sent from the CLI.
func wire(cli *commandLine, conf *core.Config, repos dig_container.Repositories) {
	store, err := dig_container.NewObjectStore(conf)
	if err != nil {
		cli.logger.Fatal(fmt.Sprintf("setting up object storage: %v", err), err)
	}
	rdb, err := dig_container.NewRedis(conf)
	if err != nil {
		cli.logger.Fatal(fmt.Sprintf("setting up redis: %v", err), err)
	}

	cli.validate = dig_container.NewValidator(core.NewTranslator())
	cli.usrRepo = repos.Users
	cli.tenantSvc = dig_container.NewTenantService(repos.Tenants, dig_container.NewLocker(rdb, cli.logger), repos.Users, store, cli.logger)
	cli.usrSvc = user.NewService(repos.Users, cli.tenantSvc, dig_container.NewEmailService(conf, cli.logger), conf, cli.logger)
}
