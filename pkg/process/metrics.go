// Copyright (C) 2019 Colonnade Storage, Inc.
// See LICENSE for copying information.

package process

import (
	"context"
	"flag"
	"os"
	"path/filepath"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/spacemonkeygo/monkit/v3/environment"
	"github.com/zeebo/admission/v2/admproto"
	"go.uber.org/zap"

	"colonnade.io/colonnade/pkg/telemetry"
)

var (
	metricInterval = flag.Duration("metrics.interval", telemetry.DefaultInterval,
		"how frequently to send up telemetry")
	metricCollector = flag.String("metrics.addr", "",
		"address to send telemetry to")
	metricApp = flag.String("metrics.app", filepath.Base(os.Args[0]),
		"application name for telemetry identification")
	metricAppSuffix = flag.String("metrics.app_suffix", "-dev",
		"application suffix")
)

// InitMetrics initializes telemetry reporting. Makes a telemetry.Client and
// launches it in a goroutine. Reporting stays off when no collector address
// is configured.
func InitMetrics(ctx context.Context, log *zap.Logger, r *monkit.Registry, instanceID string) (err error) {
	if *metricCollector == "" || *metricInterval == 0 {
		return nil
	}
	if r == nil {
		r = monkit.Default
	}
	if instanceID == "" {
		instanceID = telemetry.DefaultInstanceID()
	}

	c, err := telemetry.NewClient(log, *metricCollector, telemetry.ClientOpts{
		Interval:      *metricInterval,
		Application:   *metricApp + *metricAppSuffix,
		Instance:      instanceID,
		Registry:      r,
		FloatEncoding: admproto.Float32Encoding,
	})
	if err != nil {
		return err
	}

	environment.Register(r)
	go c.Run(ctx)
	return nil
}
