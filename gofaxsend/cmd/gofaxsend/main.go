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
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gonicus/gofaxmodem/gofaxlib"
	"github.com/gonicus/gofaxmodem/gofaxlib/logger"
	"github.com/gonicus/gofaxmodem/gofaxlib/modem"
	"github.com/gonicus/gofaxmodem/gofaxsend"
)

const (
	defaultConfigfile = "/etc/gofaxmodem.conf"
	productName       = "gofaxmodem"
	fifoPrefix        = "FIFO."
)

var (
	configFile string
	deviceID   string

	// Version can be set at build time using:
	//    -ldflags "-X main.version=0.42"
	version string

	returned = gofaxsend.SendFailed
)

var rootCmd = &cobra.Command{
	Use:          "gofaxsend [-c configfile] -m deviceID qfile [qfile...]",
	Short:        "Send a HylaFAX fax job through a modem",
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	if version == "" {
		version = "development version"
	}
	rootCmd.Version = fmt.Sprintf("%v %v", productName, version)
	rootCmd.Flags().StringVarP(&configFile, "config", "c", defaultConfigfile, "configuration file")
	rootCmd.Flags().StringVarP(&deviceID, "modem", "m", "", "modem device ID")
}

func logPanic() {
	if r := recover(); r != nil {
		logger.Logger.Print(r)
		panic(r)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := gofaxlib.LoadConfig(configFile)
	if err != nil {
		return err
	}
	if deviceID == "" {
		deviceID = modem.DeviceID(cfg)
	}

	sender, err := gofaxsend.NewSender(cfg, deviceID)
	if err != nil {
		return err
	}
	defer sender.Close()
	sender.Modem.Driver = func(t *modem.Transport) (modem.Modem, error) {
		return modem.NewFaxModem(t, cfg)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigs)
	go func() {
		for sig := range sigs {
			logger.Logger.Warnf("Received %v, aborting job", sig)
			sender.Abort()
		}
	}()

	devicefifo := cfg.SpoolPath(fifoPrefix + deviceID)
	if err := gofaxlib.SendFIFO(devicefifo, "SB"); err != nil {
		logger.Logger.Debugf("Cannot notify modem server: %v", err)
	}
	defer gofaxlib.SendFIFO(devicefifo, "SR")

	qfilename := args[0]
	if returned, err = sender.SendQfile(qfilename); err != nil {
		logger.Logger.Printf("Error processing qfile %v: %v", qfilename, err)
		returned = gofaxsend.SendFailed
	}

	if len(args) > 1 {
		logger.Logger.Println("Batching not supported, only the first job was processed, all other jobs will be requeued. Please set 'MaxBatchJobs: 1' in /etc/hylafax/config")
	}
	return nil
}

func main() {
	defer logPanic()
	if err := rootCmd.Execute(); err != nil {
		logger.Logger.Print(err)
		returned = gofaxsend.SendFailed
	}
	logger.Logger.Print("Exiting with status ", returned)
	os.Exit(int(returned))
}
