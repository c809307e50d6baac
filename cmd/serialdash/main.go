package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/clarabennett2626/serialdash/internal/config"
	"github.com/clarabennett2626/serialdash/internal/dashboard"
	"github.com/clarabennett2626/serialdash/internal/forward"
	"github.com/clarabennett2626/serialdash/internal/observability"
	"github.com/clarabennett2626/serialdash/internal/parser"
	"github.com/clarabennett2626/serialdash/internal/source"
	"github.com/clarabennett2626/serialdash/internal/stream"
	"github.com/clarabennett2626/serialdash/internal/tui"
	"github.com/clarabennett2626/serialdash/internal/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// env is the process surface run works against.
type env struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	// piped is true when stdin is not a terminal.
	piped bool
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	code := run(ctx, os.Args[1:], env{
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
		piped:  source.IsPipe(),
	})
	cancel()
	os.Exit(code)
}

type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

type flags struct {
	configPath string
	transport  string
	device     string
	baud       int
	address    string
	files      stringList
	follow     bool
	tail       int
	webAddr    string
	amqpURI    string
	theme      string
	logLevel   string
	logFile    string
	headless   bool
	list       bool
	version    bool
}

func parseFlags(args []string, stderr io.Writer) (*flags, map[string]bool, error) {
	f := &flags{}
	fs := flag.NewFlagSet("serialdash", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configPath, "config", "", "path to a TOML config file")
	fs.StringVar(&f.transport, "transport", "", "serial, stdin, file or tcp")
	fs.StringVar(&f.device, "device", "", "serial device path (default: first port found)")
	fs.IntVar(&f.baud, "baud", source.DefaultBaudRate, "serial baud rate")
	fs.StringVar(&f.address, "address", "", "host:port for the tcp transport")
	fs.Var(&f.files, "file", "file or glob for the file transport (repeatable)")
	fs.BoolVar(&f.follow, "follow", false, "keep tailing files after their end")
	fs.IntVar(&f.tail, "tail", 0, "start each file this many lines from its end")
	fs.StringVar(&f.webAddr, "web", "", "serve the browser dashboard on this address")
	fs.StringVar(&f.amqpURI, "amqp", "", "forward records to this AMQP broker")
	fs.StringVar(&f.theme, "theme", "", "dark or light")
	fs.StringVar(&f.logLevel, "log-level", "", "trace, debug, info, warn or error")
	fs.StringVar(&f.logFile, "log-file", "", "append logs to this file")
	fs.BoolVar(&f.headless, "headless", false, "print records instead of running the TUI")
	fs.BoolVar(&f.list, "list", false, "list serial devices and exit")
	fs.BoolVar(&f.version, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if fs.NArg() > 0 {
		err := fmt.Errorf("unexpected argument %q", fs.Arg(0))
		fmt.Fprintln(stderr, err)
		fs.Usage()
		return nil, nil, err
	}

	set := make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })
	return f, set, nil
}

// resolveConfig layers defaults, the config file, environment and flags.
func resolveConfig(f *flags, set map[string]bool, piped bool) (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if err := config.ApplyEnv(&cfg); err != nil {
		return cfg, err
	}

	if set["transport"] {
		cfg.Transport = strings.ToLower(strings.TrimSpace(f.transport))
	} else if piped {
		// Piped input is the stream unless a transport is asked for.
		cfg.Transport = config.TransportStdin
	}
	if set["device"] {
		cfg.Device = f.device
	}
	if set["baud"] {
		cfg.Baud = f.baud
	}
	if set["address"] {
		cfg.Address = f.address
	}
	if set["file"] {
		cfg.Files = f.files
	}
	if set["follow"] {
		cfg.Follow = f.follow
	}
	if set["tail"] {
		cfg.TailLines = f.tail
	}
	if set["web"] {
		cfg.Web.Addr = f.webAddr
	}
	if set["amqp"] {
		cfg.AMQP.URI = f.amqpURI
	}
	if set["theme"] {
		cfg.Theme = f.theme
	}
	if set["log-level"] {
		cfg.LogLevel = f.logLevel
	}
	if set["log-file"] {
		cfg.LogFile = f.logFile
	}
	if set["headless"] {
		cfg.Headless = f.headless
	}
	if cfg.Transport == config.TransportStdin {
		// stdin carries data, so there is no keyboard for the TUI.
		cfg.Headless = true
	}

	return cfg, config.Validate(cfg)
}

// openSource builds the configured transport. Serial preconditions
// (no serial support, no device) come back as source.ErrUnsupported or
// source.ErrNoDevice.
func openSource(cfg config.Config, e env) (source.Source, error) {
	switch cfg.Transport {
	case config.TransportSerial:
		dev, err := source.ResolveSerialDevice(cfg.Device)
		if err != nil {
			return nil, err
		}
		return source.NewSerialSource(source.SerialConfig{Device: dev, BaudRate: cfg.Baud}), nil
	case config.TransportStdin:
		return source.NewStdinSource(source.WithReader(e.stdin)), nil
	case config.TransportFile:
		return source.NewFileSource(source.FileConfig{
			Patterns:  cfg.Files,
			TailLines: cfg.TailLines,
			Follow:    cfg.Follow,
		}), nil
	case config.TransportTCP:
		return source.NewTCPSource(cfg.Address), nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}

func run(ctx context.Context, args []string, e env) int {
	f, set, err := parseFlags(args, e.stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	if f.version {
		fmt.Fprintf(e.stdout, "serialdash %s (%s) built %s\n", version, commit, date)
		return exitOK
	}
	if f.list {
		return listDevices(e)
	}

	cfg, err := resolveConfig(f, set, e.piped)
	if err != nil {
		fmt.Fprintf(e.stderr, "Error: %v\n", err)
		return exitUsage
	}

	// The TUI owns the terminal; without a log file its logs are dropped.
	logOut := e.stderr
	if !cfg.Headless && cfg.LogFile == "" {
		logOut = io.Discard
	}
	logger, logCloser, err := observability.InitLogger(observability.LogConfig{
		App:   "serialdash",
		Level: cfg.LogLevel,
		File:  cfg.LogFile,
	}, logOut)
	if err != nil {
		fmt.Fprintf(e.stderr, "Error: %v\n", err)
		return exitFailure
	}
	defer logCloser.Close()

	src, err := openSource(cfg, e)
	if err != nil {
		switch {
		case errors.Is(err, source.ErrUnsupported):
			fmt.Fprintf(e.stderr, "Error: serial ports are not available here (%v); use -transport stdin, file or tcp\n", err)
		case errors.Is(err, source.ErrNoDevice):
			fmt.Fprintf(e.stderr, "Error: no serial device found; plug one in or pass -device\n")
		default:
			fmt.Fprintf(e.stderr, "Error: %v\n", err)
		}
		return exitUsage
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dec := parser.NewDecoder()
	state := dashboard.NewState(src.Name())

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := observability.NewMetrics(reg, dec)
	if err != nil {
		fmt.Fprintf(e.stderr, "Error: %v\n", err)
		return exitFailure
	}

	sinks := stream.Fanout{state, metrics}

	if cfg.AMQP.URI != "" {
		fwd, err := forward.DialAMQP(cfg.AMQP.URI, cfg.AMQP.Exchange, cfg.AMQP.RoutingKey, logger)
		if err != nil {
			fmt.Fprintf(e.stderr, "Error: %v\n", err)
			return exitFailure
		}
		defer fwd.Close()
		sinks = append(sinks, fwd)
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	if cfg.Web.Addr != "" {
		srv := web.New(state, web.Config{
			Addr:           cfg.Web.Addr,
			CORSOrigins:    cfg.Web.CORSOrigins,
			TrustedProxies: cfg.Web.TrustedProxies,
			Metrics:        metrics,
			Gatherer:       reg,
			Logger:         logger,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(ctx); err != nil {
				logger.Error().Err(err).Str("addr", cfg.Web.Addr).Msg("web dashboard stopped")
			}
		}()
	}
	// Registered after wg.Wait so the server is told to stop first.
	defer cancel()

	readerOpts := []stream.Option{
		stream.WithLogger(logger),
		stream.WithDecoder(dec),
		stream.WithFramerOptions(
			parser.WithSeparator(cfg.Separator),
			parser.WithMaxBuffer(cfg.MaxBuffer),
		),
	}

	if cfg.Headless {
		sinks = append(sinks, stream.SinkFunc(func(rec parser.Record) {
			fmt.Fprintln(e.stdout, tui.RenderRecordPlain(rec))
		}))
		return runHeadless(ctx, stream.NewReader(src, sinks, readerOpts...), e, logger)
	}

	rcfg := tui.DefaultConfig()
	rcfg.Theme = tui.ParseTheme(cfg.Theme)
	prog := tea.NewProgram(tui.NewModel(src.Name(), rcfg), tea.WithAltScreen(), tea.WithContext(ctx))
	sinks = append(sinks, tui.NewProgramSink(prog))
	reader := stream.NewReader(src, sinks, readerOpts...)

	readErr := make(chan error, 1)
	go func() { readErr <- reader.Run(ctx) }()

	_, progErr := prog.Run()
	cancel()
	if err := <-readErr; err != nil {
		logger.Warn().Err(err).Msg("stream ended with error")
	}
	if progErr != nil && !errors.Is(progErr, tea.ErrProgramKilled) {
		fmt.Fprintf(e.stderr, "Error: %v\n", progErr)
		return exitFailure
	}
	return exitOK
}

// runHeadless drives the stream in the foreground until it ends.
func runHeadless(ctx context.Context, reader *stream.Reader, e env, logger zerolog.Logger) int {
	err := reader.Run(ctx)
	stats := reader.Stats()
	logger.Info().
		Int64("lines", stats.Lines).
		Int64("records", stats.Records).
		Int64("malformed", stats.Malformed).
		Msg("stream finished")
	if err != nil {
		fmt.Fprintf(e.stderr, "Error: %v\n", err)
		return exitFailure
	}
	return exitOK
}

func listDevices(e env) int {
	ports, err := source.ListSerialDevices()
	if err != nil {
		fmt.Fprintf(e.stderr, "Error: %v\n", err)
		return exitFailure
	}
	if len(ports) == 0 {
		fmt.Fprintln(e.stderr, "no serial devices found")
		return exitFailure
	}
	for _, p := range ports {
		fmt.Fprintln(e.stdout, p)
	}
	return exitOK
}
