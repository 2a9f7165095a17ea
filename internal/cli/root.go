package cmd

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rohmanhakim/site-archiver/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile     string
	startURL    string
	maxPages    int
	concurrency int
	maxAttempt  int
	outputPath  string
	userAgent   string
	timeout     time.Duration
	listenAddr  string
	verbose     bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "site-archiver",
	Short: "Archive a website and its assets into a single zip.",
	Long: `site-archiver crawls the pages of one website depth-first, downloads
the images, stylesheets and scripts they reference, rewrites every reference
so the capture opens offline, and packages everything into a zip archive.

Pages land under html/, assets under images/, css/ and js/, mirroring the
paths they had on the site.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ExecuteWithArgs runs the command tree with explicit arguments and output.
func ExecuteWithArgs(args []string, out io.Writer) error {
	rootCmd.SetArgs(args)
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "config file path, JSON, YAML or TOML (e.g., /home/myuser/site-archiver.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "human readable debug logging")
	rootCmd.PersistentFlags().IntVar(&maxPages, "max-pages", 0, "maximum number of pages to archive")
	rootCmd.PersistentFlags().IntVar(&concurrency, "concurrency", 0, "number of parallel asset fetches per page")
	rootCmd.PersistentFlags().IntVar(&maxAttempt, "max-attempt", 0, "attempts per request before giving up")
	rootCmd.PersistentFlags().StringVar(&userAgent, "user-agent", "", "user agent string for HTTP requests")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "timeout for each HTTP request")

	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// InitConfigWithError builds the effective configuration: the config file
// when given, otherwise defaults overridden by SITE_ARCHIVER_* variables,
// then any flags that were set.
func InitConfigWithError() (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = config.WithConfigFile(cfgFile)
		if err != nil {
			return config.Config{}, fmt.Errorf("error initializing config from file: %w", err)
		}
	} else {
		cfg, err = config.FromEnv()
		if err != nil {
			return config.Config{}, fmt.Errorf("error initializing config from environment: %w", err)
		}
	}

	configBuilder := &cfg

	if startURL != "" {
		parsed, parseErr := url.Parse(strings.TrimSpace(startURL))
		if parseErr != nil {
			return config.Config{}, fmt.Errorf("%w: error parsing url %s: %v", config.ErrInvalidConfig, startURL, parseErr)
		}
		configBuilder = configBuilder.WithStartURL(*parsed)
	}

	if maxPages > 0 {
		configBuilder = configBuilder.WithMaxPages(maxPages)
	}

	if concurrency > 0 {
		configBuilder = configBuilder.WithConcurrency(concurrency)
	}

	if maxAttempt > 0 {
		configBuilder = configBuilder.WithMaxAttempt(maxAttempt)
	}

	if outputPath != "" {
		configBuilder = configBuilder.WithOutputPath(outputPath)
	}

	if userAgent != "" {
		configBuilder = configBuilder.WithUserAgent(userAgent)
	}

	if timeout > 0 {
		configBuilder = configBuilder.WithTimeout(timeout)
	}

	if listenAddr != "" {
		configBuilder = configBuilder.WithListenAddr(listenAddr)
	}

	return configBuilder.Build()
}

// newLogger returns a production JSON logger, or a development console
// logger with --verbose.
func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func ResetFlags() {
	cfgFile = ""
	startURL = ""
	maxPages = 0
	concurrency = 0
	maxAttempt = 0
	outputPath = ""
	userAgent = ""
	timeout = 0
	listenAddr = ""
	verbose = false
}

// Test helper functions to set flag values from tests
func SetConfigFileForTest(path string) {
	cfgFile = path
}

func SetStartURLForTest(u string) {
	startURL = u
}

func SetMaxPagesForTest(pages int) {
	maxPages = pages
}

func SetConcurrencyForTest(conc int) {
	concurrency = conc
}

func SetMaxAttemptForTest(attempts int) {
	maxAttempt = attempts
}

func SetOutputPathForTest(path string) {
	outputPath = path
}

func SetUserAgentForTest(agent string) {
	userAgent = agent
}

func SetTimeoutForTest(t time.Duration) {
	timeout = t
}

func SetListenAddrForTest(addr string) {
	listenAddr = addr
}
