// This file is part of the GOfax.IP project - https://github.com/gonicus/gofaxip
// Copyright (C) 2014 GONICUS GmbH, Germany - http://www.gonicus.de
//
// This program is free software; you can redistribute it and/or
// modify it under the terms of the GNU General Public License
// as published by the Free Software Foundation; version 2
// of the License.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program; if not, write to the Free Software
// Foundation, Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/gonicus/gofaxmodem/gofaxlib"
	"github.com/gonicus/gofaxmodem/gofaxlib/logger"
	"github.com/gonicus/gofaxmodem/gofaxlib/modem"
	"github.com/gonicus/gofaxmodem/gofaxlib/reactor"
)

const (
	defaultConfigfile = "/etc/gofaxmodem.conf"
	productName       = "gofaxmodem"
)

var (
	configFile string

	// Version can be set at build time using:
	//    -ldflags "-X main.version=0.42"
	version string
)

var rootCmd = &cobra.Command{
	Use:          "gofaxd [-c configfile] [device]",
	Short:        "Answer calls and receive faxes on a modem",
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE:         serve,
}

func init() {
	if version == "" {
		version = "development version"
	}
	rootCmd.Version = fmt.Sprintf("%v %v", productName, version)
	rootCmd.Flags().StringVarP(&configFile, "config", "c", defaultConfigfile, "configuration file")
}

// faxDriver prefers the configured fax class and falls back to a
// plain data modem, which can still hand calls to a getty
func faxDriver(cfg *gofaxlib.Config) modem.DriverFactory {
	return func(t *modem.Transport) (modem.Modem, error) {
		fm, err := modem.NewFaxModem(t, cfg)
		if err != nil {
			logger.Logger.Warnf("%v, answering data calls only", err)
			return modem.NewClass0(t, cfg), nil
		}
		return fm, nil
	}
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := gofaxlib.LoadConfig(configFile)
	if err != nil {
		return err
	}
	if len(args) > 0 {
		cfg.Modem.Device = args[0]
		if !strings.HasPrefix(cfg.Modem.Device, "/") {
			cfg.Modem.Device = "/dev/" + cfg.Modem.Device
		}
	}
	devID := modem.DeviceID(cfg)
	logger.Logger.Printf("%v gofaxd %v starting on %s", productName, version, cfg.Modem.Device)

	if err := os.Chdir(cfg.Hylafax.Spooldir); err != nil {
		return err
	}

	var faxq *gofaxlib.Faxq
	if cfg.Hylafax.FaxqFifo != "" {
		faxq = gofaxlib.NewFaxq(cfg.SpoolPath(cfg.Hylafax.FaxqFifo))
	}
	dev, err := NewDevice(cfg, devID)
	if err != nil {
		return err
	}
	metrics := NewMetrics(devID)
	d := reactor.New()
	quit := make(chan struct{})
	var quitOnce sync.Once

	g := NewGetty(cfg, GettyOptions{
		Reactor: d,
		Faxq:    faxq,
		Device:  dev,
		Metrics: metrics,
		Modem:   modem.ServerOptions{Driver: faxDriver(cfg)},
		OnQuit:  func() { quitOnce.Do(func() { close(quit) }) },
	})
	defer g.Close()

	var group run.Group
	{
		// Modem server
		ctx, cancel := context.WithCancel(context.Background())
		group.Add(
			func() error {
				d.Post(g.Start)
				return d.Run(ctx)
			},
			func(error) {
				cancel()
			},
		)
	}
	{
		// Modem FIFO
		cancel := make(chan struct{})
		group.Add(
			func() error {
				for {
					select {
					case msg := <-dev.Messages():
						g.HandleMessage(msg)
					case err := <-dev.Errors():
						return err
					case <-cancel:
						return nil
					}
				}
			},
			func(error) {
				close(cancel)
			},
		)
	}
	{
		// Termination
		term := make(chan os.Signal, 1)
		signal.Notify(term, syscall.SIGTERM, syscall.SIGINT)
		cancel := make(chan struct{})
		group.Add(
			func() error {
				select {
				case sig := <-term:
					logger.Logger.Printf("Received %v, shutting down", sig)
					g.Abort()
				case <-quit:
					logger.Logger.Print("Quit requested")
				case <-cancel:
				}
				return nil
			},
			func(error) {
				signal.Stop(term)
				close(cancel)
			},
		)
	}
	if cw, err := NewConfigWatcher(configFile, func(c *gofaxlib.Config) {
		d.Post(func() { g.Reload(c) })
	}); err == nil {
		group.Add(cw.Run, func(error) { cw.Close() })
	} else {
		logger.Logger.Warnf("Configuration reload disabled: %v", err)
	}
	if addr := cfg.Recv.MetricsListen; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		server := &http.Server{Addr: addr, Handler: mux}
		group.Add(
			func() error {
				logger.Logger.Infof("Serving metrics on %s", addr)
				if err := server.ListenAndServe(); err != http.ErrServerClosed {
					return err
				}
				return nil
			},
			func(error) {
				server.Close()
			},
		)
	}

	err = group.Run()
	if err == context.Canceled {
		err = nil
	}
	logger.Logger.Print("Terminating")
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Logger.Print(err)
		os.Exit(1)
	}
}
