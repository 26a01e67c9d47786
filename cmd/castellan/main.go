package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/castellan/castellan/internal/castellan/cache"
	"github.com/castellan/castellan/internal/castellan/logging"
	"github.com/castellan/castellan/internal/castellan/service"
	sqlitestore "github.com/castellan/castellan/internal/castellan/store/sqlite"
	"github.com/castellan/castellan/internal/config"
	"github.com/castellan/castellan/internal/db"
)

func main() {
	logger := log.New(os.Stdout, "castellan ", log.LstdFlags|log.LUTC)

	cfg, err := config.Load("")
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		logger.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if cfg.Env == "dev" {
		if err := db.SeedDev(ctx, conn); err != nil {
			logger.Fatalf("seed dev data: %v", err)
		}
	}

	writer := db.NewWorker(conn)
	defer writer.Close()

	entities := sqlitestore.NewEntityStore(conn)
	permStore := sqlitestore.NewPermissionStore(conn, writer)
	// Decisions are audited off the request path: the decision service
	// enqueues, the async drain goroutine owns the SQLite and CSV writes.
	audit := logging.NewAsync(logging.Multi(
		sqlitestore.NewDecisionLog(conn, writer),
		logging.NewCSVLog(cfg.LogDir),
	), logger)
	defer audit.Close()

	c := cache.New(logger)
	if err := c.Load(ctx, entities); err != nil {
		logger.Fatalf("load cache: %v", err)
	}

	locks := service.NewLockScheduler(c, cfg.LockWindow.Std(), logger)
	locks.Start(ctx)
	defer locks.Stop()

	decisions := service.NewDecisionService(c, locks, audit, logger)
	permissions := service.NewPermissionService(c, permStore, logger)

	// One-shot operator commands exit without entering the long-running
	// mode: castellan decide <credential> <reader> <resource>,
	// grant <credential> <resource>, revoke <credential> <resource>,
	// reader <resource>, list <credential>.
	if len(os.Args) > 1 {
		if err := runCommand(ctx, os.Args[1:], decisions, permissions, c); err != nil {
			logger.Fatalf("%v", err)
		}
		return
	}

	retention := logging.NewRetention(cfg.LogDir, cfg.LogRetentionDays, logger)
	retention.Start()
	defer retention.Stop()

	if cfg.SimEnabled {
		sim := service.NewSimulator(decisions, c, cfg.SimRate, logger)
		go sim.Run(ctx)
	}

	logger.Printf("running (env=%s, lock window=%s); ctrl-c to exit", cfg.Env, cfg.LockWindow.Std())
	<-ctx.Done()
}

func runCommand(
	ctx context.Context,
	args []string,
	decisions *service.DecisionService,
	permissions *service.PermissionService,
	c *cache.Cache,
) error {
	switch args[0] {
	case "decide":
		if len(args) != 4 {
			return fmt.Errorf("usage: castellan decide <credential> <reader> <resource>")
		}
		d := decisions.Decide(ctx, args[1], args[2], args[3])
		fmt.Printf("%s: %s\n", d.Status, d.Reason)
	case "grant":
		if len(args) != 3 {
			return fmt.Errorf("usage: castellan grant <credential> <resource>")
		}
		if err := permissions.Grant(ctx, args[1], args[2]); err != nil {
			return err
		}
		fmt.Println("granted")
	case "revoke":
		if len(args) != 3 {
			return fmt.Errorf("usage: castellan revoke <credential> <resource>")
		}
		if err := permissions.Revoke(ctx, args[1], args[2]); err != nil {
			return err
		}
		fmt.Println("revoked")
	case "reader":
		if len(args) != 2 {
			return fmt.Errorf("usage: castellan reader <resource>")
		}
		fmt.Println(c.IsReaderActive(args[1]))
	case "list":
		if len(args) != 2 {
			return fmt.Errorf("usage: castellan list <credential>")
		}
		for _, id := range permissions.AccessibleResources(args[1]) {
			fmt.Println(id)
		}
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
	return nil
}
