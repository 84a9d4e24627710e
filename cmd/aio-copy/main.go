// aio-copy copies a file using batched asynchronous reads and writes.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	aio "github.com/behrlich/go-aio"
	"github.com/behrlich/go-aio/internal/logging"
)

func main() {
	var (
		chunkSize = flag.Int("chunk", 1<<20, "Chunk size in bytes")
		depth     = flag.Int("depth", 8, "Chunks kept in flight at once")
		backend   = flag.String("backend", "auto", "Completion backend: auto, kernel, workers")
		verbose   = flag.Bool("v", false, "Verbose output")
		stats     = flag.Bool("stats", false, "Print queue metrics when done")
	)
	flag.Parse()

	if flag.NArg() != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <src> <dst>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}
	if *chunkSize <= 0 || *depth <= 0 {
		log.Fatalf("chunk and depth must be positive")
	}

	// Set up logging
	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	var kind aio.BackendKind
	switch *backend {
	case "auto":
		kind = aio.BackendAuto
	case "kernel":
		kind = aio.BackendKernel
	case "workers":
		kind = aio.BackendWorkers
	default:
		log.Fatalf("unknown backend %q", *backend)
	}

	src, err := os.Open(flag.Arg(0))
	if err != nil {
		log.Fatalf("open source: %v", err)
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		log.Fatalf("stat source: %v", err)
	}
	dst, err := os.OpenFile(flag.Arg(1), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		log.Fatalf("open destination: %v", err)
	}
	defer dst.Close()

	q, err := aio.NewQueue(aio.Options{Depth: *depth, Backend: kind, Logger: logger})
	if err != nil {
		log.Fatalf("create queue: %v", err)
	}
	defer q.Close()
	logger.Info("copying", "src", flag.Arg(0), "dst", flag.Arg(1),
		"size", info.Size(), "backend", q.Backend().String())

	start := time.Now()
	copied, err := copyFile(q, int32(src.Fd()), int32(dst.Fd()), info.Size(), *chunkSize, *depth)
	if err != nil {
		log.Fatalf("copy: %v", err)
	}

	sync := q.NewFsyncRequest(int32(dst.Fd()))
	if err := sync.SubmitFsync(aio.FsyncAll); err != nil {
		log.Fatalf("fsync: %v", err)
	}
	if err := aio.Suspend([]*aio.Request{sync}, nil); err != nil {
		log.Fatalf("fsync wait: %v", err)
	}
	if _, err := sync.CollectResult(); err != nil {
		log.Fatalf("fsync: %v", err)
	}
	sync.Close()

	elapsed := time.Since(start)
	logger.Info("done", "bytes", copied, "elapsed", elapsed.String())
	fmt.Printf("copied %d bytes in %s\n", copied, elapsed.Round(time.Millisecond))

	if *stats {
		snap := q.Metrics().Snapshot()
		fmt.Printf("submitted=%d completed=%d failed=%d batches=%d read=%dB written=%dB\n",
			snap.Submitted, snap.Completed, snap.Failed, snap.Batches,
			snap.BytesRead, snap.BytesWritten)
	}
}

// chunkCopy is one window slot: first a read from the source, then the
// same bytes written to the destination at the same offset.
type chunkCopy struct {
	read  *aio.Request
	write *aio.Request
	want  int
}

func (c *chunkCopy) active() *aio.Request {
	if c.write != nil {
		return c.write
	}
	return c.read
}

// copyFile moves size bytes from srcFD to dstFD, keeping up to depth
// chunk-sized requests in flight. A collected read is flipped into a write
// without copying by transferring its buffer.
func copyFile(q *aio.Queue, srcFD, dstFD int32, size int64, chunk, depth int) (int64, error) {
	var copied int64
	offset := int64(0)
	window := make([]*chunkCopy, 0, depth)

	for offset < size || len(window) > 0 {
		for len(window) < depth && offset < size {
			n := chunk
			if remain := size - offset; int64(n) > remain {
				n = int(remain)
			}
			rd, err := q.NewOwnedRequestSize(srcFD, offset, n)
			if err != nil {
				return copied, err
			}
			if err := rd.SubmitRead(); err != nil {
				rd.Close()
				return copied, err
			}
			window = append(window, &chunkCopy{read: rd, want: n})
			offset += int64(n)
		}

		pending := make([]*aio.Request, len(window))
		for i, c := range window {
			pending[i] = c.active()
		}
		if err := aio.Suspend(pending, nil); err != nil {
			return copied, err
		}

		next := window[:0]
		for _, c := range window {
			err := c.active().PollError()
			if err != nil && aio.IsPending(err) {
				next = append(next, c)
				continue
			}
			if err != nil {
				return copied, err
			}

			if c.write == nil {
				n, err := c.read.CollectResult()
				if err != nil {
					return copied, err
				}
				if n != c.want {
					return copied, fmt.Errorf("short read: %d of %d at %d", n, c.want, c.read.Offset())
				}
				wr := q.NewRequestFromBuffer(dstFD, c.read.Offset(), c.read.ExtractBuffer())
				if err := wr.SubmitWrite(); err != nil {
					return copied, err
				}
				c.write = wr
				c.read.Close()
				next = append(next, c)
				continue
			}

			n, err := c.write.CollectResult()
			if err != nil {
				return copied, err
			}
			copied += int64(n)
			c.write.Close()
		}
		window = next
	}
	return copied, nil
}
