// cmd/status.go

package main

import (
	"fmt"

	"SpeadFlow/pkg/telstate"

	"github.com/urfave/cli/v2"
)

func cmdStatus() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "show receiver sessions registered in the state store",
		ArgsUsage: "REDIS-URL",
		Action:    statusAction,
		Flags: []cli.Flag{
			&cli.Uint64Flag{
				Name:  "session",
				Usage: "show only a single session",
			},
		},
	}
}

func statusAction(ctx *cli.Context) error {
	setLoggerLevel(ctx)
	if ctx.Args().Len() < 1 {
		return fmt.Errorf("REDIS-URL is needed")
	}
	ts, err := telstate.NewClient(ctx.Args().Get(0))
	if err != nil {
		return err
	}

	if sid := ctx.Uint64("session"); sid != 0 {
		s, err := ts.GetSession(int64(sid))
		if err != nil {
			logger.Fatalf("get session: %s", err)
		}
		printJson(s)
		return nil
	}

	sessions, err := ts.ListSessions()
	if err != nil {
		logger.Fatalf("list sessions: %s", err)
	}
	printJson(sessions)
	return nil
}
