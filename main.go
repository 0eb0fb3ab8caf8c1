package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"zfsman/api"
	"zfsman/db"
	"zfsman/envz"
	"zfsman/logger"
	"zfsman/scheduler"
	"zfsman/smart"
	"zfsman/stream"
	"zfsman/sysinfo"
	"zfsman/websocket"
	"zfsman/zcmd"
	"zfsman/zfs"
	"zfsman/zpool"
)

func askForSudo() {
	// zpool/zfs administration needs root
	if os.Geteuid() != 0 {
		fmt.Println("This program needs to be run as root.")
		os.Exit(0)
	}
}

func checkBinaries() {
	for _, bin := range []string{envz.ZpoolBin, envz.ZfsBin} {
		if _, err := exec.LookPath(bin); err != nil {
			fmt.Printf("%s not found in PATH, is ZFS installed?\n", bin)
			os.Exit(1)
		}
	}
}

func bootstrapAdmin() {
	count, err := db.CountUsers()
	if err != nil {
		logger.Error("count users", "err", err.Error())
		os.Exit(1)
	}
	if count > 0 {
		return
	}
	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		password = "admin"
		logger.Warn("no ADMIN_PASSWORD set, created default admin/admin account, change it")
	}
	if err := db.CreateUser("admin", password); err != nil {
		logger.Error("create admin user", "err", err.Error())
		os.Exit(1)
	}
	logger.Info("bootstrap admin user created")
}

func main() {
	askForSudo()

	if err := envz.Setup(); err != nil {
		fmt.Println("config error:", err)
		os.Exit(1)
	}
	logger.SetType(envz.Mode)
	defer logger.Sync()

	checkBinaries()

	ctx := context.Background()
	db.InitDB(ctx, envz.DBPath)
	defer db.Close()
	for _, create := range []func() error{
		db.CreateUsersTable,
		db.CreateSessionsTable,
		db.CreateAuditTable,
		db.CreateScrubTable,
		db.CreateReplicationTable,
	} {
		if err := create(); err != nil {
			logger.Error("create table", "err", err.Error())
			os.Exit(1)
		}
	}
	bootstrapAdmin()

	// push every log line to websocket subscribers
	logger.SetCallBack(func(urgency int, msg string, fields ...interface{}) {
		levels := []string{"info", "error", "warn", "debug"}
		level := "info"
		if urgency >= 0 && urgency < len(levels) {
			level = levels[urgency]
		}
		websocket.BroadcastMessage(websocket.Message{Type: level, Data: msg})
	})

	runner := zcmd.NewRunner(envz.CmdSlots)
	streams := stream.NewRegistry(envz.ZpoolBin, envz.IostatInterval, envz.HistoryLimit)
	events := stream.NewEventFeed(envz.ZpoolBin)
	pools := zpool.NewService(runner, streams, envz.ZpoolBin, envz.ZfsBin, zpool.DestroyPolicy{
		Attempts: envz.DestroyAttempts,
		Backoff:  time.Duration(envz.DestroyBackoff) * time.Second,
		Settle:   time.Duration(envz.DestroySettle) * time.Second,
	})
	datasets := zfs.NewService(runner, envz.ZfsBin)

	go scheduler.Run(ctx, pools)
	go func() {
		for range time.Tick(time.Hour) {
			if n, err := db.CleanupSessions(); err == nil && n > 0 {
				logger.Debug("expired sessions removed", "count", fmt.Sprintf("%d", n))
			}
		}
	}()

	logger.Info("zfsman starting", "addr", envz.ListenAddr)
	if err := api.StartApi(&api.Services{
		Pools:    pools,
		Datasets: datasets,
		Streams:  streams,
		Events:   events,
		Sender:   stream.NewSender(envz.ZfsBin),
		Smart:    smart.NewService(runner),
		Sysinfo:  sysinfo.NewService(runner, envz.ZpoolBin, envz.ZfsBin),
	}); err != nil {
		logger.Error("api server exited", "err", err.Error())
		os.Exit(1)
	}
}
