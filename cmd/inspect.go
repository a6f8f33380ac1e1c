// cmd/inspect.go

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"SpeadFlow/pkg/capture"
	"SpeadFlow/pkg/utils"

	"github.com/urfave/cli/v2"
)

func cmdInspect() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "show the contents of a capture file",
		ArgsUsage: "FILE",
		Action:    inspectAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "decrypt-rsa",
				Usage: "RSA private key the capture was encrypted with",
			},
			&cli.BoolFlag{
				Name:  "chunks",
				Usage: "list every chunk record",
			},
		},
	}
}

func printJson(v interface{}) {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		logger.Fatalf("json: %s", err)
	}
	fmt.Println(string(output))
}

func inspectAction(c *cli.Context) error {
	setLoggerLevel(c)
	if c.Args().Len() != 1 {
		return fmt.Errorf("FILE is needed")
	}
	var enc capture.Encryptor
	if keyPath := c.String("decrypt-rsa"); keyPath != "" {
		key, err := capture.LoadRSAKey(keyPath, os.Getenv("SPEADFLOW_RSA_PASSPHRASE"))
		if err != nil {
			return fmt.Errorf("load private key: %s", err)
		}
		enc = capture.NewAESEncryptor(capture.NewRSAEncryptor(key))
	}
	r, err := capture.NewReader(c.Args().Get(0), enc)
	if err != nil {
		return err
	}
	defer r.Close()
	printJson(r.Header)

	var chunks, heaps, missing int64
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		var present int
		for _, p := range rec.Present {
			if p != 0 {
				present++
			}
		}
		chunks++
		heaps += int64(present)
		missing += int64(len(rec.Present) - present)
		if c.Bool("chunks") {
			fmt.Printf("chunk %8d: %3d/%3d heaps, %s\n", rec.ChunkID,
				present, len(rec.Present), utils.FormatBytes(uint64(len(rec.Data))))
		}
	}
	fmt.Printf("%d chunks, %d heaps present, %d missing\n", chunks, heaps, missing)
	return nil
}
