// Copyright (C) 2019 Colonnade Storage, Inc.
// See LICENSE for copying information.

package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"colonnade.io/colonnade/store"
)

// Error is the default error for the gateway package.
var Error = errs.Class("gateway")

// Config is all the configuration parameters for the S3 gateway.
type Config struct {
	Hostname string `help:"hostname to listen on, also the virtual-host addressing suffix" default:"127.0.0.1"`
	Port     int    `help:"port to serve the S3 API on" default:"8000"`
}

// Peer is the representation of the gateway server.
//
// architecture: Peer
type Peer struct {
	Log *zap.Logger

	Server struct {
		Endpoint http.Server
		Listener net.Listener
	}
}

// New creates a new gateway server serving the engine behind db.
func New(log *zap.Logger, db *store.DB, config Config) (peer *Peer, err error) {
	peer = &Peer{
		Log: log,
	}

	peer.Server.Endpoint = http.Server{
		Handler: NewHandler(log, db, config.Hostname),
	}

	address := net.JoinHostPort(config.Hostname, strconv.Itoa(config.Port))
	peer.Server.Listener, err = net.Listen("tcp", address)
	if err != nil {
		return nil, errs.Combine(Error.Wrap(err), peer.Close())
	}

	return peer, nil
}

// Run runs the gateway server until it's either closed or it errors.
func (peer *Peer) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	var group errgroup.Group

	group.Go(func() error {
		<-ctx.Done()
		err := peer.Server.Endpoint.Shutdown(ctx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		return err
	})
	group.Go(func() error {
		defer cancel()
		peer.Log.Info("S3 gateway started.", zap.String("Address", peer.Addr()))
		err := peer.Server.Endpoint.Serve(peer.Server.Listener)
		if errors.Is(err, http.ErrServerClosed) || errors.Is(err, context.Canceled) {
			err = nil
		}
		return err
	})
	return group.Wait()
}

// Close closes all the resources.
func (peer *Peer) Close() error {
	return peer.Server.Endpoint.Close()
}

// Addr returns the address the gateway listens on.
func (peer *Peer) Addr() string { return peer.Server.Listener.Addr().String() }
