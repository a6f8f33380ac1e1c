// cmd/recv.go

package main

import (
	"fmt"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"SpeadFlow/pkg/capture"
	"SpeadFlow/pkg/recv"
	"SpeadFlow/pkg/spead"
	"SpeadFlow/pkg/telstate"
	"SpeadFlow/pkg/utils"

	"github.com/google/gops/agent"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

func cmdRecv() *cli.Command {
	return &cli.Command{
		Name:      "recv",
		Usage:     "receive SPEAD substreams and capture completed chunks",
		ArgsUsage: "ADDR...",
		Action:    recvAction,
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:  "max-chunks",
				Value: 4,
				Usage: "size of the shared chunk window",
			},
			&cli.BoolFlag{
				Name:  "lossless",
				Usage: "never evict a chunk before all substreams released it",
			},
			&cli.Int64Flag{
				Name:  "heaps-per-chunk",
				Value: 64,
				Usage: "number of heaps aggregated into one chunk",
			},
			&cli.IntFlag{
				Name:  "heap-size",
				Value: 1 << 20,
				Usage: "payload bytes per heap",
			},
			&cli.IntFlag{
				Name:  "buffers",
				Value: 16,
				Usage: "number of chunk buffers cycling through the rings",
			},
			&cli.IntFlag{
				Name:  "ring-size",
				Value: 8,
				Usage: "capacity of the free and data rings",
			},
			&cli.IntFlag{
				Name:  "packet-size",
				Value: 9200,
				Usage: "maximum accepted datagram size",
			},
			&cli.IntFlag{
				Name:  "max-heaps",
				Value: recv.DefaultMaxHeaps,
				Usage: "partial heaps kept per substream",
			},
			&cli.IntFlag{
				Name:  "rcvbuf",
				Value: 16 << 20,
				Usage: "kernel receive buffer per socket",
			},
			&cli.StringFlag{
				Name:  "dir",
				Value: ".",
				Usage: "directory for capture files",
			},
			&cli.StringFlag{
				Name:  "codec",
				Value: "zstd",
				Usage: "capture compression (none, lz4, zstd)",
			},
			&cli.StringFlag{
				Name:  "encrypt-rsa",
				Usage: "RSA private key to encrypt capture files",
			},
			&cli.StringFlag{
				Name:  "telstate",
				Usage: "redis URL of the telescope state store",
			},
			&cli.StringFlag{
				Name:  "debug-agent",
				Usage: "listen address for the gops diagnostics agent",
			},
			&cli.BoolFlag{
				Name:    "d",
				Aliases: []string{"background"},
				Usage:   "run in background",
			},
			&cli.StringFlag{
				Name:  "log",
				Value: "/var/log/speadflow.log",
				Usage: "path of log file when running in background",
			},
		},
	}
}

func recvAction(c *cli.Context) error {
	setLoggerLevel(c)
	if c.Args().Len() < 1 {
		return fmt.Errorf("at least one listen address is needed")
	}
	addrs := c.Args().Slice()
	if c.Bool("d") {
		if err := makeDaemon(c); err != nil {
			logger.Fatalf("make daemon: %s", err)
		}
	}
	if da := c.String("debug-agent"); da != "" {
		if err := agent.Listen(agent.Options{Addr: da}); err != nil {
			logger.Warnf("debug agent: %s", err)
		}
	}

	if dir := c.String("dir"); !utils.Exists(dir) {
		return fmt.Errorf("capture directory %s does not exist", dir)
	}

	heapsPerChunk := c.Int64("heaps-per-chunk")
	heapSize := int64(c.Int("heap-size"))
	chunkSize := heapsPerChunk * heapSize
	eviction := recv.Lossy
	if c.Bool("lossless") {
		eviction = recv.Lossless
	}

	buffers := c.Int("buffers")
	ringSize := c.Int("ring-size")
	dataRing := recv.NewChunkRing(ringSize)
	// The free ring must be able to hold every buffer at once.
	if ringSize < buffers {
		ringSize = buffers
	}
	freeRing := recv.NewChunkRing(ringSize)
	group, err := recv.NewRingGroup(recv.GroupConfig{
		MaxChunks: c.Int64("max-chunks"),
		Eviction:  eviction,
	}, dataRing, freeRing)
	if err != nil {
		return err
	}
	for i := 0; i < buffers; i++ {
		if err = freeRing.TryPush(recv.NewChunk(int(heapsPerChunk), int(chunkSize))); err != nil {
			return err
		}
	}

	place := func(h *spead.PacketHeader) (recv.Placement, bool) {
		if h.HeapCnt < 0 || h.HeapLength > heapSize {
			return recv.Placement{}, false
		}
		idx := h.HeapCnt % heapsPerChunk
		return recv.Placement{
			ChunkID:    h.HeapCnt / heapsPerChunk,
			HeapIndex:  idx,
			HeapOffset: idx * heapSize,
		}, true
	}
	for _, addr := range addrs {
		s, err := group.EmplaceMember(recv.StreamConfig{
			MaxHeaps:       c.Int("max-heaps"),
			MaxPacketSize:  c.Int("packet-size"),
			MaxHeapSize:    heapSize,
			Place:          place,
			StopOnStopItem: true,
		})
		if err != nil {
			return err
		}
		if err = s.AddUDPReader(addr, c.Int("rcvbuf")); err != nil {
			return err
		}
		logger.Infof("listening on %s", addr)
	}

	var ts *telstate.Client
	if url := c.String("telstate"); url != "" {
		if ts, err = telstate.NewClient(url); err != nil {
			return err
		}
		if err = ts.NewSession(addrs, eviction.String(), c.Int64("max-chunks")); err != nil {
			logger.Warnf("register session: %s", err)
		}
	}

	var enc capture.Encryptor
	if keyPath := c.String("encrypt-rsa"); keyPath != "" {
		key, err := capture.LoadRSAKey(keyPath, os.Getenv("SPEADFLOW_RSA_PASSPHRASE"))
		if err != nil {
			return fmt.Errorf("load private key: %s", err)
		}
		enc = capture.NewAESEncryptor(capture.NewRSAEncryptor(key))
	}
	session := uuid.New().String()
	name := fmt.Sprintf("speadflow-%s.spcf", session)
	writer, err := capture.NewWriter(path.Join(c.String("dir"), name), c.String("codec"),
		session, int(heapsPerChunk), int(chunkSize), enc)
	if err != nil {
		return err
	}
	logger.Infof("capturing %d substreams into %s (%s chunks of %s)",
		len(addrs), name, eviction, utils.FormatBytes(uint64(chunkSize)))

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-interrupt
		logger.Infof("got signal %s, stopping", sig)
		group.Stop()
	}()

	done := make(chan struct{})
	go reportLoop(group, ts, done)

	for {
		chunk, err := dataRing.Pop()
		if err != nil {
			break
		}
		if werr := writer.Append(chunk); werr != nil {
			logger.Errorf("append chunk %d: %s", chunk.ID, werr)
		}
		group.AddFreeChunk(chunk)
	}
	group.Stop()
	close(done)

	if err = writer.Close(); err != nil {
		logger.Errorf("close capture: %s", err)
	}
	if ts != nil {
		ts.PublishStats(groupSnapshots(group))
		ts.CloseSession()
	}
	total := groupTotals(group)
	logger.Infof("captured %d chunks (%s), %d heaps, %d packets, %d bad, %d evicted incomplete, %d too old",
		writer.Chunks, utils.FormatBytes(uint64(writer.Bytes)), total.CompletedHeaps,
		total.Packets, total.BadPackets, total.IncompleteHeapsEvicted, total.TooOldHeaps)
	return nil
}

func groupSnapshots(g *recv.RingGroup) []recv.StreamStats {
	out := make([]recv.StreamStats, g.Len())
	for i := range out {
		out[i] = g.Member(i).Stats()
	}
	return out
}

func groupTotals(g *recv.RingGroup) StreamTotals {
	var total StreamTotals
	for i := 0; i < g.Len(); i++ {
		total.Add(g.Member(i).Stats())
	}
	return total
}

// StreamTotals aggregates per-member statistics.
type StreamTotals = recv.StreamStats

func reportLoop(g *recv.RingGroup, ts *telstate.Client, done chan struct{}) {
	ticker := time.NewTicker(time.Second * 10)
	defer ticker.Stop()
	var last StreamTotals
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}
		total := groupTotals(g)
		ru := utils.GetRusage()
		logger.Debugf("packets %d (+%d), heaps %d, memory %s, cpu %.1fs user %.1fs sys",
			total.Packets, total.Packets-last.Packets, total.CompletedHeaps,
			utils.FormatBytes(uint64(utils.AllocMemory())), ru.GetUtime(), ru.GetStime())
		last = total
		if ts != nil {
			ts.PublishStats(groupSnapshots(g))
		}
	}
}
