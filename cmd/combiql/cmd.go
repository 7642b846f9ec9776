package main

import (
	"os"

	"github.com/rs/xid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log   *zap.SugaredLogger
	conf  *config
	cpath string
)

// Cmd is the entry point for the CLI.
func Cmd() {
	log = newLogger(false).Sugar().With("session", xid.New().String())

	cobra.EnableCommandSorting = false
	rootCmd := &cobra.Command{
		Use:   "combiql",
		Short: "query-combinator to SQL compiler",
	}

	rootCmd.PersistentFlags().StringVar(&cpath,
		"config", "./config", "path to config files")

	rootCmd.AddCommand(schemaCmd())
	rootCmd.AddCommand(demoCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("%s", err)
	}
}

// setup reads the config file once.
func setup(cpath string) {
	if conf != nil {
		return
	}
	var err error
	if conf, err = readInConfig(cpath); err != nil {
		log.Fatal(err)
	}
}

func newLogger(json bool) *zap.Logger {
	econf := zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		TimeKey:        "time",
		NameKey:        "logger",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var core zapcore.Core
	if json {
		core = zapcore.NewCore(zapcore.NewJSONEncoder(econf), zapcore.Lock(os.Stdout), zap.DebugLevel)
	} else {
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(econf), zapcore.Lock(os.Stdout), zap.DebugLevel)
	}
	return zap.New(core)
}
