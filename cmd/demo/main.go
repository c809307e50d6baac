// Demo device that emits the record stream a serialdash board would send:
// CRLF-terminated JSON objects, written in arbitrary chunk sizes. Used for
// trying the dashboard without hardware and for recording README demos.
//
//	demo | serialdash
//	demo -listen 127.0.0.1:4000 & serialdash -transport tcp -address 127.0.0.1:4000
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

type options struct {
	count    int
	interval time.Duration
	maxChunk int
	noise    bool
	seed     int64
}

func main() {
	var (
		opts   options
		listen string
	)
	flag.IntVar(&opts.count, "count", 0, "records to send (0 = forever)")
	flag.DurationVar(&opts.interval, "interval", 200*time.Millisecond, "delay between records")
	flag.IntVar(&opts.maxChunk, "chunk", 7, "largest write in bytes")
	flag.BoolVar(&opts.noise, "noise", false, "mix in boot banners and corrupted lines")
	flag.Int64Var(&opts.seed, "seed", time.Now().UnixNano(), "random seed")
	flag.StringVar(&listen, "listen", "", "serve on this TCP address instead of stdout")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("app", "demo").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	var err error
	if listen == "" {
		err = simulate(ctx, os.Stdout, opts)
	} else {
		err = serve(ctx, listen, opts, logger)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// serve accepts one client at a time and streams to it until it leaves.
func serve(ctx context.Context, addr string, opts options, logger zerolog.Logger) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	logger.Info().Str("addr", ln.Addr().String()).Msg("waiting for a client")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		logger.Info().Str("client", conn.RemoteAddr().String()).Msg("client connected")
		err = simulate(ctx, conn, opts)
		conn.Close()
		logger.Info().Err(err).Msg("client gone")
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

type reading struct {
	Pot  int     `json:"pot"`
	Btn  int     `json:"btn"`
	Temp float64 `json:"temp"`
}

var noiseLines = []string{
	"rst:0x1 (POWERON_RESET),boot:0x13",
	`{"pot":`,
	"[0,0,0]",
}

// simulate writes opts.count records to w, split into random chunks.
func simulate(ctx context.Context, w io.Writer, opts options) error {
	rng := rand.New(rand.NewSource(opts.seed))
	maxChunk := max(opts.maxChunk, 1)

	for i := 0; opts.count == 0 || i < opts.count; i++ {
		if opts.noise && rng.Intn(8) == 0 {
			if err := writeChunked(w, noiseLines[rng.Intn(len(noiseLines))]+"\r\n", maxChunk, rng); err != nil {
				return err
			}
		}

		phase := float64(i) / 20
		r := reading{
			Pot:  int(50 + 50*math.Sin(phase)),
			Btn:  rng.Intn(2),
			Temp: math.Round((21+2*math.Sin(phase/3)+rng.Float64()*0.2)*10) / 10,
		}
		line, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if err := writeChunked(w, string(line)+"\r\n", maxChunk, rng); err != nil {
			return err
		}

		if opts.interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.interval):
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func writeChunked(w io.Writer, s string, maxChunk int, rng *rand.Rand) error {
	for len(s) > 0 {
		n := min(1+rng.Intn(maxChunk), len(s))
		if _, err := io.WriteString(w, s[:n]); err != nil {
			return err
		}
		s = s[n:]
	}
	return nil
}
