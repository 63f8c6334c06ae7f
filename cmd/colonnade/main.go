// Copyright (C) 2019 Colonnade Storage, Inc.
// See LICENSE for copying information.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"colonnade.io/colonnade/gateway"
	"colonnade.io/colonnade/internal/fpath"
	"colonnade.io/colonnade/pkg/cfgstruct"
	"colonnade.io/colonnade/pkg/process"
	"colonnade.io/colonnade/store"
)

// Both halves of the configuration are named Config, the aliases give them
// distinct names to embed under.
type (
	GatewayConfig = gateway.Config
	StoreConfig   = store.Config
)

// Config is the full configuration of the server. Both halves embed
// anonymously so the flag namespace stays flat.
type Config struct {
	GatewayConfig
	StoreConfig
}

var (
	rootCmd = &cobra.Command{
		Use:   "colonnade",
		Short: "S3 compatible object storage over a Cassandra or Scylla cluster",
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the S3 gateway",
		RunE:  cmdRun,
	}
	setupCmd = &cobra.Command{
		Use:         "setup",
		Short:       "Create config files",
		RunE:        cmdSetup,
		Annotations: map[string]string{"type": "setup"},
	}
	dropCmd = &cobra.Command{
		Use:   "drop",
		Short: "Drop the object tables and everything stored in them",
		RunE:  cmdDrop,
	}

	runCfg   Config
	setupCfg Config
	dropCfg  Config

	confDir string
)

func init() {
	defaultConfDir := fpath.ApplicationDir("colonnade")
	cfgstruct.SetupFlag(zap.L(), rootCmd, &confDir, "config-dir", defaultConfDir, "main directory for colonnade configuration")
	defaults := cfgstruct.DefaultsFlag(rootCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(dropCmd)
	process.Bind(runCmd, &runCfg, defaults, cfgstruct.ConfDir(confDir))
	process.Bind(setupCmd, &setupCfg, defaults, cfgstruct.ConfDir(confDir), cfgstruct.SetupMode())
	process.Bind(dropCmd, &dropCfg, defaults, cfgstruct.ConfDir(confDir))
}

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	ctx := process.Ctx(cmd)
	log := zap.L()

	db, err := store.Open(ctx, log.Named("store"), runCfg.StoreConfig)
	if err != nil {
		return errs.New("error connecting to the cluster: %+v", err)
	}
	defer func() {
		err = errs.Combine(err, db.Close())
	}()

	if err := db.EnsureSchema(ctx); err != nil {
		return errs.New("error creating the object tables: %+v", err)
	}

	peer, err := gateway.New(log.Named("gateway"), db, runCfg.GatewayConfig)
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return db.RunGC(groupCtx)
	})
	group.Go(func() error {
		return peer.Run(groupCtx)
	})

	runError := group.Wait()
	closeError := peer.Close()

	return errs.Combine(runError, closeError)
}

func cmdSetup(cmd *cobra.Command, args []string) (err error) {
	setupDir, err := filepath.Abs(confDir)
	if err != nil {
		return err
	}

	valid, _ := fpath.IsValidSetupDir(setupDir)
	if !valid {
		return fmt.Errorf("colonnade configuration already exists (%v)", setupDir)
	}

	err = os.MkdirAll(setupDir, 0700)
	if err != nil {
		return err
	}

	return process.SaveConfigWithAllDefaults(cmd.Flags(), filepath.Join(setupDir, process.DefaultCfgFilename), nil)
}

func cmdDrop(cmd *cobra.Command, args []string) (err error) {
	ctx := process.Ctx(cmd)
	log := zap.L()

	db, err := store.Open(ctx, log.Named("store"), dropCfg.StoreConfig)
	if err != nil {
		return errs.New("error connecting to the cluster: %+v", err)
	}
	defer func() {
		err = errs.Combine(err, db.Close())
	}()

	return db.DropSchema(ctx)
}

func main() {
	process.Exec(rootCmd)
}
