package main

import (
	"fmt"
	"os"

	"github.com/Hara602/fileSentry/internal/config"
	"github.com/Hara602/fileSentry/internal/daemon"
	"github.com/Hara602/fileSentry/internal/index"
	"github.com/Hara602/fileSentry/internal/monitor"
	"github.com/Hara602/fileSentry/internal/sysutil"
	"github.com/Hara602/fileSentry/internal/watcher"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Default()
	cmd := newRootCmd(&cfg)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "file-listener",
		Short:         "Count file open/modify events on a mount and checkpoint them to disk",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(*cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&cfg.Mounts, "mount", cfg.Mounts, "mount point to watch (repeatable)")
	flags.StringVar(&cfg.SavePath, "save-path", cfg.SavePath, "canonical store file")
	flags.StringVar(&cfg.BlacklistPath, "blacklist-path", cfg.BlacklistPath, "exclusion list, one path prefix per line")
	flags.StringVar(&cfg.SegmentDir, "segment-dir", cfg.SegmentDir, "directory for numbered segment files")
	flags.IntVar(&cfg.MaxSegments, "max-segments", cfg.MaxSegments, "segments kept before compaction")
	flags.IntVar(&cfg.MaxSegmentSize, "max-segment-size", cfg.MaxSegmentSize, "new paths per segment before rotation")
	flags.DurationVar(&cfg.Interval, "interval", cfg.Interval, "periodic checkpoint interval")
	flags.StringVar(&cfg.IndexPath, "index-path", cfg.IndexPath, "SQLite mirror of the canonical store (disabled when empty)")
	flags.BoolVar(&cfg.FollowMounts, "follow-mounts", cfg.FollowMounts, "watch hot-plugged block devices once they are mounted")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	flags.BoolVar(&cfg.Syslog, "syslog", cfg.Syslog, "also log to the system log")
	return cmd
}

func run(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	// 初始化日志
	log, err := sysutil.NewLogger(sysutil.LoggerOptions{Level: cfg.LogLevel, Syslog: cfg.Syslog})
	if err != nil {
		return err
	}
	defer log.Sync()

	// Fanotify 需要 Root 权限
	if os.Geteuid() != 0 {
		log.Error("Must run as root (required by Fanotify).")
		return fmt.Errorf("must run as root")
	}

	log.Info("🛡️ File Listener Starting...")

	// 初始化失败直接退出，此时还没有采集任何数据
	fileMon, err := monitor.New(log.Named("monitor"))
	if err != nil {
		log.Error("Monitor init failed", zap.Error(err))
		return err
	}
	for _, m := range cfg.Mounts {
		if err := fileMon.AddWatch(m); err != nil {
			log.Error("Couldn't mark mount point", zap.String("mount", m), zap.Error(err))
			fileMon.Close()
			return err
		}
	}

	opts := daemon.Options{Source: fileMon}
	if cfg.FollowMounts {
		devWatcher, err := watcher.New(log.Named("watcher"))
		if err != nil {
			// 热插拔只是附加功能
			log.Warn("Mount following disabled", zap.Error(err))
		} else {
			opts.Devices = devWatcher
		}
	}
	if cfg.IndexPath != "" {
		idx, err := index.Open(cfg.IndexPath)
		if err != nil {
			log.Warn("Index disabled", zap.String("path", cfg.IndexPath), zap.Error(err))
		} else {
			opts.Index = idx
		}
	}

	d, err := daemon.New(cfg, log, opts)
	if err != nil {
		log.Error("Daemon init failed", zap.Error(err))
		closeAll(opts)
		return err
	}
	if err := d.Run(); err != nil {
		// 资源释放失败不影响退出码，数据已经落盘
		log.Warn("Shutdown finished with errors", zap.Error(err))
	}
	return nil
}

func closeAll(opts daemon.Options) {
	opts.Source.Close()
	if opts.Devices != nil {
		opts.Devices.Close()
	}
	if opts.Index != nil {
		opts.Index.Close()
	}
}
