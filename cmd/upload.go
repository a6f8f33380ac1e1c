// cmd/upload.go

package main

import (
	"fmt"
	"os"

	"SpeadFlow/pkg/capture"
	"SpeadFlow/pkg/utils"

	"github.com/urfave/cli/v2"
)

func cmdUpload() *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "ship capture files to an SFTP archive",
		ArgsUsage: "FILE...",
		Action:    uploadAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "addr",
				Required: true,
				Usage:    "host:port of the archive SSH endpoint",
			},
			&cli.StringFlag{
				Name:  "user",
				Usage: "SSH user name",
			},
			&cli.StringFlag{
				Name:  "key",
				Usage: "SSH private key file",
			},
			&cli.StringFlag{
				Name:  "remote-dir",
				Value: "captures",
				Usage: "target directory on the archive",
			},
			&cli.Int64Flag{
				Name:  "bandwidth",
				Usage: "upload limit in bytes per second",
			},
			&cli.BoolFlag{
				Name:  "remove",
				Usage: "remove local files after a successful upload",
			},
		},
	}
}

func uploadAction(c *cli.Context) error {
	setLoggerLevel(c)
	if c.Args().Len() < 1 {
		return fmt.Errorf("at least one FILE is needed")
	}
	files := c.Args().Slice()
	var total int64
	for _, f := range files {
		st, err := os.Stat(f)
		if err != nil {
			return err
		}
		total += st.Size()
	}

	up, err := capture.NewUploader(&capture.UploadConfig{
		Addr:      c.String("addr"),
		User:      c.String("user"),
		Password:  os.Getenv("SPEADFLOW_SSH_PASSWORD"),
		KeyPath:   c.String("key"),
		RemoteDir: c.String("remote-dir"),
		Bandwidth: c.Int64("bandwidth"),
	})
	if err != nil {
		return err
	}
	defer up.Close()

	progress, bar := utils.NewDynProgressBar("uploading bytes: ", c.Bool("quiet"))
	bar.SetTotal(total, false)
	for _, f := range files {
		if err = up.Put(f, func(n int) { bar.IncrBy(n) }); err != nil {
			return fmt.Errorf("upload %s: %s", f, err)
		}
		logger.Infof("uploaded %s", f)
		if c.Bool("remove") {
			if err = os.Remove(f); err != nil {
				logger.Warnf("remove %s: %s", f, err)
			}
		}
	}
	bar.SetTotal(total, true)
	progress.Wait()
	return nil
}
