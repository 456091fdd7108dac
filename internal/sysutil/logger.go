package sysutil

import (
	"fmt"
	"log/syslog"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SyslogTag 系统日志中的程序名
const SyslogTag = "file_listener"

// LoggerOptions 日志配置
type LoggerOptions struct {
	Level  string // debug, info, warn, error
	Syslog bool   // 同时写入系统日志 (LOG_DAEMON)
}

// NewLogger 控制台 + syslog 双输出
func NewLogger(opts LoggerOptions) (*zap.Logger, error) {
	level := zap.InfoLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}

	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder        // 格式化时间输出
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder // 彩色级别
	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(config.EncoderConfig),
			zapcore.AddSync(os.Stdout),
			level,
		),
	}

	var syslogErr error
	if opts.Syslog {
		w, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, SyslogTag)
		if err != nil {
			// 容器里通常没有 /dev/log，只输出到控制台
			syslogErr = err
		} else {
			cores = append(cores, NewSyslogCore(w, level))
		}
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	if syslogErr != nil {
		logger.Warn("Syslog unavailable, logging to console only", zap.Error(syslogErr))
	}
	return logger, nil
}

// syslogWriter 是 *syslog.Writer 中按级别写入的那部分方法
type syslogWriter interface {
	Debug(m string) error
	Info(m string) error
	Warning(m string) error
	Err(m string) error
	Crit(m string) error
	Close() error
}

// syslogCore 把 zap 级别映射成 syslog 的 severity
type syslogCore struct {
	zapcore.LevelEnabler
	enc zapcore.Encoder
	w   syslogWriter
}

// NewSyslogCore 不带时间戳和颜色，syslog 自己会记录时间
func NewSyslogCore(w syslogWriter, enab zapcore.LevelEnabler) zapcore.Core {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = ""
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return &syslogCore{
		LevelEnabler: enab,
		enc:          zapcore.NewConsoleEncoder(encCfg),
		w:            w,
	}
}

func (c *syslogCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &syslogCore{LevelEnabler: c.LevelEnabler, enc: c.enc.Clone(), w: c.w}
	for _, f := range fields {
		f.AddTo(clone.enc)
	}
	return clone
}

func (c *syslogCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *syslogCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	msg := strings.TrimSuffix(buf.String(), "\n")
	buf.Free()

	switch ent.Level {
	case zapcore.DebugLevel:
		return c.w.Debug(msg)
	case zapcore.InfoLevel:
		return c.w.Info(msg)
	case zapcore.WarnLevel:
		return c.w.Warning(msg)
	case zapcore.ErrorLevel:
		return c.w.Err(msg)
	default:
		return c.w.Crit(msg)
	}
}

func (c *syslogCore) Sync() error { return nil }
