package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanq16/streamdl/internal/config"
	"github.com/tanq16/streamdl/internal/output"
	"github.com/tanq16/streamdl/internal/utils"
)

var (
	cfgFile       string
	timeout       time.Duration
	kaTimeout     time.Duration
	userAgent     string
	proxyURL      string
	proxyUsername string
	proxyPassword string
	headers       []string
	workers       int
	chunkSize     string
	bitrate       string
	playbackRate  float64
	retries       int
	strictRanges  bool
	debug         bool
	logFile       string
	backend       string
	storageRoot   string
	profile       string
	endpoint      string
	cacheSize     int
	verify        bool

	// cfg is the resolved configuration: defaults, then file, env and flags.
	cfg config.Config
)

var StreamdlVersion = "dev"

var rootCmd = &cobra.Command{
	Use:   "streamdl",
	Short: "streamdl downloads media in chunks paced by the playback buffer",
	Long: `streamdl fetches a resource in byte-range chunks and decides when to fetch
the next one from how much of the playback buffer is left. Resources can come
from HTTP servers or from content-addressed piece storage (S3 or a directory).`,
	Version:           StreamdlVersion,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, output.FError(err.Error()))
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "YAML configuration file")
	pf.DurationVarP(&timeout, "timeout", "t", 3*time.Minute, "Connection timeout (eg. 5s, 10m)")
	pf.DurationVarP(&kaTimeout, "keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	pf.StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent (\"randomize\" picks a browser agent)")
	pf.StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	pf.StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	pf.StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	pf.StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	pf.IntVarP(&workers, "workers", "w", 1, "Number of streams to run in parallel")
	pf.StringVarP(&chunkSize, "chunk-size", "c", "4MB", "Bytes per fetch (eg. 512KB, 8MB, unbounded)")
	pf.StringVarP(&bitrate, "bitrate", "b", "", "Media bitrate per second (eg. 500KB); paces fetches against a simulated player")
	pf.Float64VarP(&playbackRate, "rate", "r", 1, "Playback rate of the simulated player")
	pf.IntVar(&retries, "retries", 0, "Resume a stream this many times after a failed fetch")
	pf.BoolVar(&strictRanges, "strict-ranges", false, "Fail when the server does not support byte ranges")
	pf.BoolVar(&debug, "debug", false, "Enable debug logging")
	pf.StringVar(&logFile, "log-file", "", "Write logs to this file instead of stderr")
	pf.StringVar(&backend, "backend", "", "Piece storage backend (s3 or dir)")
	pf.StringVar(&storageRoot, "root", "", "Base directory for the dir backend")
	pf.StringVar(&profile, "profile", "", "AWS profile for the s3 backend")
	pf.StringVar(&endpoint, "endpoint", "", "Custom S3 endpoint (eg. a local MinIO)")
	pf.IntVar(&cacheSize, "cache-size", 0, "Pieces held in memory per bucket, 0 for unbounded")
	pf.BoolVar(&verify, "verify", false, "Check piece content against its id")

	rootCmd.AddCommand(newStreamCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newPieceCmd())
	rootCmd.AddCommand(newScheduleCmd())
}

// loadConfig resolves cfg and sets up logging before any subcommand runs.
func loadConfig(cmd *cobra.Command, args []string) error {
	cfg = config.Default()
	if cfgFile != "" {
		fileCfg, err := config.LoadFromFile(cfgFile)
		if err != nil {
			return err
		}
		cfg = fileCfg
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	override, err := flagOverrides(cmd)
	if err != nil {
		return err
	}
	cfg = cfg.Merge(override)
	if err := cfg.Validate(); err != nil {
		return err
	}

	utils.InitLogger(cfg.Debug)
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("error opening log file: %v", err)
		}
		utils.SetLogOutput(f)
	}
	log.Debug().Str("op", "cmd/root").Int("workers", cfg.Workers).Int64("chunk", cfg.ChunkSize).
		Int64("bitrate", cfg.Bitrate).Msg("configuration loaded")
	return nil
}

// flagOverrides collects the flags set on the command line.
func flagOverrides(cmd *cobra.Command) (config.Config, error) {
	var o config.Config
	flags := cmd.Flags()
	if flags.Changed("timeout") {
		o.Timeout = timeout
	}
	if flags.Changed("keep-alive-timeout") {
		o.KeepAliveTimeout = kaTimeout
	}
	if flags.Changed("user-agent") {
		o.UserAgent = userAgent
	}
	if flags.Changed("proxy") {
		o.Proxy.URL = proxyURL
	}
	o.Proxy.Username = proxyUsername
	o.Proxy.Password = proxyPassword
	o.Headers = headers
	if flags.Changed("workers") {
		o.Workers = workers
	}
	if flags.Changed("chunk-size") {
		n, err := config.ParseChunkSize(chunkSize)
		if err != nil {
			return o, err
		}
		o.ChunkSize = n
	}
	if bitrate != "" {
		n, err := utils.ParseSize(bitrate)
		if err != nil {
			return o, fmt.Errorf("invalid bitrate: %v", err)
		}
		o.Bitrate = n
	}
	if flags.Changed("rate") {
		o.PlaybackRate = playbackRate
	}
	o.Retries = retries
	o.StrictRanges = strictRanges
	o.Debug = debug
	o.LogFile = logFile
	o.Storage = config.StorageConfig{
		Backend:   backend,
		Root:      storageRoot,
		Profile:   profile,
		Endpoint:  endpoint,
		CacheSize: cacheSize,
		Verify:    verify,
	}
	return o, nil
}

func newJob(jobType, url, outputPath string) utils.StreamJob {
	return utils.StreamJob{
		JobType:          jobType,
		URL:              url,
		OutputPath:       outputPath,
		ChunkSize:        cfg.ChunkSize,
		Bitrate:          cfg.Bitrate,
		PlaybackRate:     cfg.PlaybackRate,
		StrictRanges:     cfg.StrictRanges,
		Retries:          cfg.Retries,
		HTTPClientConfig: cfg.HTTPClientConfig(),
		Piece:            cfg.PieceSource(),
		Metadata:         make(map[string]any),
	}
}
