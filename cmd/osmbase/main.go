// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/cfgstruct"
	"storj.io/common/fpath"
	"storj.io/common/process"

	"osmbase.io/osmbase/apiserver"
	"osmbase.io/osmbase/mapbase"
)

var (
	rootCmd = &cobra.Command{
		Use:   "osmbase",
		Short: "Map editing API server",
	}
	setupCmd = &cobra.Command{
		Use:         "setup",
		Short:       "Create config files",
		RunE:        cmdSetup,
		Annotations: map[string]string{"type": "setup"},
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the API server",
		RunE:  cmdRun,
	}
	migrationCmd = &cobra.Command{
		Use:   "migration",
		Short: "Apply pending database migrations",
		RunE:  cmdMigration,
	}
	confDir string

	runCfg   Config
	setupCfg Config
)

// Config is the top level configuration of the osmbase server.
type Config struct {
	DatabaseURL string `help:"URL to connect to the map database" default:""`

	Database mapbase.Config
	Server   apiserver.Config
}

func cmdSetup(cmd *cobra.Command, args []string) (err error) {
	setupDir, err := filepath.Abs(confDir)
	if err != nil {
		return err
	}

	valid, _ := fpath.IsValidSetupDir(setupDir)
	if !valid {
		return fmt.Errorf("osmbase configuration already exists (%v)", setupDir)
	}

	err = os.MkdirAll(setupDir, 0700)
	if err != nil {
		return err
	}

	if setupCfg.DatabaseURL == "" {
		return fmt.Errorf("DatabaseURL is required")
	}

	return process.SaveConfig(cmd, filepath.Join(setupDir, "config.yaml"))
}

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	db, err := mapbase.Open(ctx, log.Named("mapbase"), runCfg.DatabaseURL, runCfg.Database)
	if err != nil {
		return errs.New("Error creating map database connection: %+v", err)
	}
	defer func() {
		err = errs.Combine(err, db.Close())
	}()

	err = db.CheckVersion(ctx)
	if err != nil {
		return errs.New("failed map database version check: %+v", err)
	}

	api, err := apiserver.NewServer(log.Named("api"), db, apiserver.HeaderAuth{}, nil, runCfg.Server)
	if err != nil {
		return errs.New("Error creating API server: %+v", err)
	}

	return api.Run()
}

func cmdMigration(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	db, err := mapbase.Open(ctx, log.Named("mapbase"), runCfg.DatabaseURL, runCfg.Database)
	if err != nil {
		return errs.New("Error creating map database connection: %+v", err)
	}
	defer func() {
		err = errs.Combine(err, db.Close())
	}()

	return db.MigrateToLatest(ctx)
}

func init() {
	defaultConfDir := fpath.ApplicationDir("osmbase", "osmbase")
	cfgstruct.SetupFlag(zap.L(), rootCmd, &confDir, "config-dir", defaultConfDir, "main directory for osmbase configuration")
	defaults := cfgstruct.DefaultsFlag(rootCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(migrationCmd)
	process.Bind(runCmd, &runCfg, defaults, cfgstruct.ConfDir(confDir))
	process.Bind(migrationCmd, &runCfg, defaults, cfgstruct.ConfDir(confDir))
	process.Bind(setupCmd, &setupCfg, defaults, cfgstruct.ConfDir(confDir), cfgstruct.SetupMode())
}

func main() {
	logger, _, _ := process.NewLogger("osmbase")
	zap.ReplaceGlobals(logger)

	process.Exec(rootCmd)
}
