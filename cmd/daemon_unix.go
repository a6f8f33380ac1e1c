// cmd/daemon_unix.go

package main

import (
	"os"

	"SpeadFlow/pkg/utils"

	"github.com/juicedata/godaemon"
	"github.com/urfave/cli/v2"
)

func makeDaemon(c *cli.Context) error {
	var attrs godaemon.DaemonAttr
	if godaemon.Stage() == 0 {
		var err error
		logfile := c.String("log")
		attrs.Stdout, err = os.OpenFile(logfile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			logger.Errorf("open log file %s: %s", logfile, err)
		}
	}
	_, _, err := godaemon.MakeDaemon(&attrs)
	if err == nil && godaemon.Stage() > 0 {
		utils.SetOutFile(c.String("log"))
	}
	return err
}
