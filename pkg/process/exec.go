// Copyright (C) 2019 Colonnade Storage, Inc.
// See LICENSE for copying information.

package process

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	rdebug "runtime/debug"
	"strings"
	"sync"
	"syscall"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"colonnade.io/colonnade/pkg/cfgstruct"
)

// DefaultCfgFilename is the name of the config file inside the config directory.
const DefaultCfgFilename = "config.yaml"

var (
	contextMtx sync.Mutex
	contexts   = map[*cobra.Command]context.Context{}
)

// Bind binds the config struct to the command flags.
func Bind(cmd *cobra.Command, config interface{}, opts ...cfgstruct.BindOpt) {
	cfgstruct.Bind(cmd.Flags(), config, opts...)
}

// Ctx returns the context associated with the running command. The context
// is canceled on SIGINT and SIGTERM.
func Ctx(cmd *cobra.Command) context.Context {
	contextMtx.Lock()
	defer contextMtx.Unlock()
	if ctx, ok := contexts[cmd]; ok {
		return ctx
	}
	return context.Background()
}

// Exec runs a Cobra command. Before the command body runs, the process
// configuration is resolved from flags, environment variables and the
// config file, logging is installed, and the debug and telemetry
// endpoints are brought up.
func Exec(cmd *cobra.Command) {
	cmd.AddCommand(versionCmd())
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	cleanup(cmd)
	Must(cmd.Execute())
}

// Must exits the process when err is set.
func Must(err error) {
	if err != nil {
		os.Exit(1)
	}
}

func cleanup(cmd *cobra.Command) {
	for _, ccmd := range cmd.Commands() {
		cleanup(ccmd)
	}
	if cmd.Run != nil {
		panic("commands should use RunE")
	}
	internalRun := cmd.RunE
	if internalRun == nil {
		return
	}

	cmd.Flags().AddFlagSet(pflag.CommandLine)

	cmd.RunE = func(cmd *cobra.Command, args []string) (err error) {
		flags := cmd.Flags()

		vip := viper.New()
		if err := vip.BindPFlags(flags); err != nil {
			return Error.Wrap(err)
		}
		vip.SetEnvPrefix("colonnade")
		vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		vip.AutomaticEnv()

		if cfgFlag := flags.Lookup("config-dir"); cfgFlag != nil && cfgFlag.Value.String() != "" {
			path := filepath.Join(os.ExpandEnv(cfgFlag.Value.String()), DefaultCfgFilename)
			if cmd.Annotations["type"] != "setup" || fileExists(path) {
				vip.SetConfigFile(path)
				if err := vip.ReadInConfig(); err != nil && !os.IsNotExist(err) {
					if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
						return Error.Wrap(err)
					}
				}
			}
		}

		// viper can carry values from the environment or the config file;
		// copy them into the flags the user did not set explicitly.
		flags.VisitAll(func(f *pflag.Flag) {
			if f.Changed {
				return
			}
			value := vip.Get(f.Name)
			if value == nil {
				return
			}
			s := fmt.Sprint(value)
			if s == f.DefValue {
				return
			}
			if err := flags.Set(f.Name, s); err != nil {
				zap.S().Errorf("invalid configuration value for %s: %v", f.Name, err)
			}
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(c)
		go func() {
			select {
			case <-c:
				cancel()
			case <-ctx.Done():
			}
		}()

		contextMtx.Lock()
		contexts[cmd] = ctx
		contextMtx.Unlock()
		defer func() {
			contextMtx.Lock()
			delete(contexts, cmd)
			contextMtx.Unlock()
		}()

		logger, err := NewLogger()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		defer zap.ReplaceGlobals(logger)()
		defer zap.RedirectStdLog(logger)()

		if cmd.Annotations["type"] != "setup" {
			if err := initDebug(logger, monkit.Default); err != nil {
				logger.Error("failed to start debug endpoints", zap.Error(err))
			}
			if err := InitMetrics(ctx, logger, monkit.Default, ""); err != nil {
				logger.Error("failed to initialize telemetry batcher", zap.Error(err))
			}
		}

		return internalRun(cmd, args)
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "output the version's build information, if any",
		Annotations: map[string]string{"type": "setup"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if info, ok := rdebug.ReadBuildInfo(); ok {
				fmt.Println(info.Main.Path, info.Main.Version)
			} else {
				fmt.Println("built without module support")
			}
			return nil
		},
	}
}
