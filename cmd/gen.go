// cmd/gen.go

package main

import (
	"fmt"
	"math/rand"
	"net"

	"SpeadFlow/pkg/spead"
	"SpeadFlow/pkg/utils"

	"github.com/juju/ratelimit"
	"github.com/urfave/cli/v2"
)

func cmdGen() *cli.Command {
	return &cli.Command{
		Name:      "gen",
		Usage:     "generate a synthetic SPEAD load against a receiver",
		ArgsUsage: "ADDR...",
		Action:    genAction,
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:  "heaps",
				Value: 1024,
				Usage: "number of heaps to send",
			},
			&cli.IntFlag{
				Name:  "heap-size",
				Value: 1 << 20,
				Usage: "payload bytes per heap",
			},
			&cli.IntFlag{
				Name:  "packet-size",
				Value: 8192,
				Usage: "payload bytes per packet",
			},
			&cli.Int64Flag{
				Name:  "rate",
				Usage: "total send rate in bytes per second, counting whole packets (0 for unpaced)",
			},
			&cli.Float64Flag{
				Name:  "drop",
				Usage: "fraction of packets to drop, to exercise eviction",
			},
			&cli.Int64Flag{
				Name:  "seed",
				Value: 1,
				Usage: "seed for the drop pattern",
			},
		},
	}
}

func genAction(c *cli.Context) error {
	setLoggerLevel(c)
	if c.Args().Len() < 1 {
		return fmt.Errorf("at least one destination address is needed")
	}
	addrs := c.Args().Slice()
	conns := make([]*net.UDPConn, len(addrs))
	for i, a := range addrs {
		ua, err := net.ResolveUDPAddr("udp", a)
		if err != nil {
			return err
		}
		if conns[i], err = net.DialUDP("udp", nil, ua); err != nil {
			return err
		}
		defer conns[i].Close()
	}

	heaps := c.Int64("heaps")
	heapSize := c.Int("heap-size")
	packetSize := c.Int("packet-size")
	drop := c.Float64("drop")
	rng := rand.New(rand.NewSource(c.Int64("seed")))
	var bucket *ratelimit.Bucket
	if rate := c.Int64("rate"); rate > 0 {
		bucket = ratelimit.NewBucketWithRate(float64(rate), rate)
	}

	progress, bar := utils.NewDynProgressBar("sending heaps: ", c.Bool("quiet"))
	bar.SetTotal(heaps, false)

	payload := make([]byte, heapSize)
	var sent, dropped int64
	for cnt := int64(0); cnt < heaps; cnt++ {
		for i := range payload {
			payload[i] = byte(cnt + int64(i))
		}
		conn := conns[cnt%int64(len(conns))]
		for off := 0; off < heapSize; off += packetSize {
			end := off + utils.Min(packetSize, heapSize-off)
			if drop > 0 && rng.Float64() < drop {
				dropped++
				continue
			}
			pkt := spead.EncodePacket(&spead.PacketSpec{
				HeapCnt:       cnt,
				HeapLength:    int64(heapSize),
				PayloadOffset: int64(off),
				Payload:       payload[off:end],
			})
			if bucket != nil {
				bucket.Wait(int64(len(pkt)))
			}
			if _, err := conn.Write(pkt); err != nil {
				return err
			}
			sent++
		}
		bar.Increment()
	}
	for i, conn := range conns {
		if _, err := conn.Write(spead.EncodeStopPacket(heaps + int64(i))); err != nil {
			logger.Warnf("send stop to %s: %s", addrs[i], err)
		}
	}
	bar.SetTotal(heaps, true)
	progress.Wait()
	logger.Infof("sent %d packets for %d heaps (%d dropped on purpose)", sent, heaps, dropped)
	return nil
}
