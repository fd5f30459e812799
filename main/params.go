// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ava-labs/avalanchego/database/leveldb"
	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/logging"

	"github.com/ava-labs/schedulervm/config"
	"github.com/ava-labs/schedulervm/node"
)

const (
	appName = "schedulervm"

	ConfigFileKey          = "config-file"
	DBTypeKey              = "db-type"
	DBPathKey              = "db-dir"
	HTTPHostKey            = "http-host"
	HTTPPortKey            = "http-port"
	HTTPAllowedOriginsKey  = "http-allowed-origins"
	LogsDirKey             = "log-dir"
	LogLevelKey            = "log-level"
	LogDisplayLevelKey     = "log-display-level"
	LogFormatKey           = "log-format"
	LogMaxSizeKey          = "log-rotater-max-size"
	LogMaxFilesKey         = "log-rotater-max-files"
	LogMaxAgeKey           = "log-rotater-max-age"
	LogCompressKey         = "log-rotater-compress-enabled"
	BlockIntervalKey       = "block-interval"
	SubmitFeeKey           = "submit-fee"
	GenesisAllocationsKey  = "genesis-allocations"
	SchedulerConfigFileKey = "scheduler-config-file"
)

var errInvalidAllocation = errors.New("allocation must be formatted as address:amount")

type logConfig struct {
	Directory    string
	LogLevel     logging.Level
	DisplayLevel logging.Level
	Format       logging.Format
	MaxSize      int
	MaxFiles     int
	MaxAge       int
	Compress     bool
}

type params struct {
	DBType         string
	DBPath         string
	HTTPHost       string
	HTTPPort       uint16
	AllowedOrigins []string
	Log            logConfig
	Node           node.Config
}

func buildFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)

	fs.String(ConfigFileKey, "", "Specifies a config file")

	// Database
	fs.String(DBTypeKey, memdb.Name, fmt.Sprintf("Database type to use. Should be one of {%s, %s}", leveldb.Name, memdb.Name))
	fs.String(DBPathKey, appName+"-db", "Path to the database directory")

	// HTTP
	fs.String(HTTPHostKey, "127.0.0.1", "Address of the HTTP server")
	fs.Uint16(HTTPPortKey, 9650, "Port of the HTTP server")
	fs.StringSlice(HTTPAllowedOriginsKey, []string{"*"}, "Origins to allow on the HTTP port")

	// Logging
	fs.String(LogsDirKey, "", "Logging directory. If empty, logs are only displayed")
	fs.String(LogLevelKey, logging.Info.String(), "The log level. Should be one of {verbo, debug, trace, info, warn, error, fatal, off}")
	fs.String(LogDisplayLevelKey, "", "The log display level. If left blank, will inherit the value of log-level")
	fs.String(LogFormatKey, "auto", "The structure of log format. Should be one of {auto, plain, colors, json}")
	fs.Int(LogMaxSizeKey, 8, "The maximum file size in megabytes of a log file before it gets rotated")
	fs.Int(LogMaxFilesKey, 7, "The maximum number of old log files to retain")
	fs.Int(LogMaxAgeKey, 0, "The maximum number of days to retain old log files. 0 means retain all")
	fs.Bool(LogCompressKey, false, "Enables the compression of rotated log files through gzip")

	// Chain
	fs.Duration(BlockIntervalKey, time.Second, "Time between two blocks")
	fs.Uint64(SubmitFeeKey, 1_000, "Locked funds charged to a user for every submission")
	fs.StringSlice(GenesisAllocationsKey, nil, "Balances credited at genesis, as address:amount")
	fs.String(SchedulerConfigFileKey, "", "Specifies a JSON file with the scheduler configuration")

	return fs
}

// buildViper returns the viper environment from parsing [args] and the config
// file they point to, if any.
func buildViper(fs *pflag.FlagSet, args []string) (*viper.Viper, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix(appName)
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}

	if v.IsSet(ConfigFileKey) {
		v.SetConfigFile(os.ExpandEnv(v.GetString(ConfigFileKey)))
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func getLogConfig(v *viper.Viper) (logConfig, error) {
	cfg := logConfig{
		Directory: os.ExpandEnv(v.GetString(LogsDirKey)),
		MaxSize:   v.GetInt(LogMaxSizeKey),
		MaxFiles:  v.GetInt(LogMaxFilesKey),
		MaxAge:    v.GetInt(LogMaxAgeKey),
		Compress:  v.GetBool(LogCompressKey),
	}

	var err error
	cfg.LogLevel, err = logging.ToLevel(v.GetString(LogLevelKey))
	if err != nil {
		return logConfig{}, err
	}
	cfg.DisplayLevel = cfg.LogLevel
	if displayLevel := v.GetString(LogDisplayLevelKey); displayLevel != "" {
		cfg.DisplayLevel, err = logging.ToLevel(displayLevel)
		if err != nil {
			return logConfig{}, err
		}
	}
	cfg.Format, err = logging.ToFormat(v.GetString(LogFormatKey), os.Stdout.Fd())
	return cfg, err
}

func getAllocations(v *viper.Viper) ([]node.Allocation, error) {
	var allocations []node.Allocation
	for _, entry := range v.GetStringSlice(GenesisAllocationsKey) {
		addrStr, amountStr, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("%w: %q", errInvalidAllocation, entry)
		}
		addr, err := ids.ShortFromString(addrStr)
		if err != nil {
			return nil, fmt.Errorf("couldn't parse allocation address %q: %w", addrStr, err)
		}
		amount, err := strconv.ParseUint(amountStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("couldn't parse allocation amount %q: %w", amountStr, err)
		}
		allocations = append(allocations, node.Allocation{
			Address: addr,
			Amount:  amount,
		})
	}
	return allocations, nil
}

func getSchedulerConfig(v *viper.Viper) (*config.Config, error) {
	path := v.GetString(SchedulerConfigFileKey)
	if path == "" {
		return config.GetConfig(nil)
	}
	b, err := os.ReadFile(os.ExpandEnv(path))
	if err != nil {
		return nil, fmt.Errorf("couldn't read scheduler config: %w", err)
	}
	return config.GetConfig(b)
}

func getParams(v *viper.Viper) (params, error) {
	p := params{
		DBType:         v.GetString(DBTypeKey),
		DBPath:         os.ExpandEnv(v.GetString(DBPathKey)),
		HTTPHost:       v.GetString(HTTPHostKey),
		HTTPPort:       uint16(v.GetUint(HTTPPortKey)),
		AllowedOrigins: v.GetStringSlice(HTTPAllowedOriginsKey),
		Node: node.Config{
			BlockInterval: v.GetDuration(BlockIntervalKey),
			SubmitFee:     v.GetUint64(SubmitFeeKey),
		},
	}
	switch p.DBType {
	case leveldb.Name, memdb.Name:
	default:
		return params{}, fmt.Errorf(
			"db-type was %q but should have been one of {%s, %s}",
			p.DBType,
			leveldb.Name,
			memdb.Name,
		)
	}

	var err error
	p.Log, err = getLogConfig(v)
	if err != nil {
		return params{}, err
	}
	p.Node.Allocations, err = getAllocations(v)
	if err != nil {
		return params{}, err
	}
	schedulerConfig, err := getSchedulerConfig(v)
	if err != nil {
		return params{}, err
	}
	p.Node.Scheduler = *schedulerConfig
	return p, p.Node.Verify()
}
