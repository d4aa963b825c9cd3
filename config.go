package peerrank

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/peerrank/autopilot"
	"github.com/lightningnetwork/peerrank/build"
	"github.com/lightningnetwork/peerrank/lncfg"
	"github.com/lightningnetwork/peerrank/monitoring"
	"github.com/lightningnetwork/peerrank/recstore"
)

const (
	defaultDataDirname     = "data"
	defaultLogLevel        = "info"
	defaultLogDirname      = "logs"
	defaultMaxTableEntries = 25
)

var (
	// DefaultPeerRankDir is the default directory where peerrank tries to
	// find its configuration file and store its data and logs.
	DefaultPeerRankDir = btcutil.AppDataDir("peerrank", false)

	// DefaultConfigFile is the default full path of peerrank's
	// configuration file.
	DefaultConfigFile = filepath.Join(
		DefaultPeerRankDir, lncfg.DefaultConfigFilename,
	)

	defaultDataDir = filepath.Join(DefaultPeerRankDir, defaultDataDirname)
	defaultLogDir  = filepath.Join(DefaultPeerRankDir, defaultLogDirname)
)

// Config defines the configuration options for peerrank.
//
// See LoadConfig for further details regarding the configuration loading and
// parsing process.
//
//nolint:lll
type Config struct {
	ShowVersion bool `short:"V" long:"version" description:"Display version information and exit"`

	PeerRankDir string `long:"peerrankdir" description:"The base directory that contains peerrank's data, logs and configuration file."`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir     string `short:"b" long:"datadir" description:"The directory to store peerrank's data within"`
	LogDir      string `long:"logdir" description:"Directory to log output."`

	MaxLogFiles    int `long:"maxlogfiles" description:"Maximum logfiles to keep (0 for no rotation). DEPRECATED: use --logging.file.max-files instead" hidden:"true"`
	MaxLogFileSize int `long:"maxlogfilesize" description:"Maximum logfile size in MB. DEPRECATED: use --logging.file.max-file-size instead" hidden:"true"`

	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <global-level>,<subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	MaxHistory int  `long:"maxhistory" description:"The number of published recommendation lists kept in the database (0 keeps all)."`
	RunOnStart bool `long:"runonstart" description:"Run a refresh cycle right after startup instead of waiting for the first interval to pass."`
	TableSize  int  `long:"tablesize" description:"The number of recommendations printed to the log after every cycle (0 disables the table)."`

	Autopilot *lncfg.AutoPilot `group:"Autopilot" namespace:"autopilot"`

	Feed *lncfg.Feed `group:"Feed" namespace:"feed"`

	Prometheus *monitoring.Config `group:"Prometheus" namespace:"prometheus"`

	LogConfig *build.LogConfig `group:"logging" namespace:"logging"`

	// Pilot is the parsed engine configuration. It is populated by
	// ValidateConfig.
	Pilot *autopilot.Config

	// LogRotator is the writer of the log file.
	LogRotator *build.RotatingLogWriter

	// SubLogMgr hands out the subsystem loggers and manages their
	// levels.
	SubLogMgr *build.SubLoggerManager
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		PeerRankDir: DefaultPeerRankDir,
		ConfigFile:  DefaultConfigFile,
		DataDir:     defaultDataDir,
		LogDir:      defaultLogDir,
		DebugLevel:  defaultLogLevel,
		MaxHistory:  recstore.DefaultMaxHistory,
		TableSize:   defaultMaxTableEntries,
		Autopilot:   lncfg.DefaultAutoPilot(),
		Feed:        &lncfg.Feed{},
		Prometheus:  monitoring.DefaultConfig(),
		LogConfig:   build.DefaultLogConfig(),
		LogRotator:  build.NewRotatingLogWriter(),
	}
}

// LoadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig() (*Config, error) {
	// Pre-parse the command line options to pick up an alternative config
	// file.
	preCfg := DefaultConfig()
	if _, err := flags.Parse(&preCfg); err != nil {
		return nil, err
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", build.Version(),
			"commit="+build.Commit)
		os.Exit(0)
	}

	// If the config file path has not been modified by the user, then
	// we'll use the default config file path. However, if the user has
	// modified their base directory, then we should assume they intend to
	// use the config file within it.
	configFileDir := lncfg.CleanAndExpandPath(preCfg.PeerRankDir)
	configFilePath := lncfg.CleanAndExpandPath(preCfg.ConfigFile)
	if configFileDir != DefaultPeerRankDir {
		if configFilePath == DefaultConfigFile {
			configFilePath = filepath.Join(
				configFileDir, lncfg.DefaultConfigFilename,
			)
		}
	}

	// Next, load any additional configuration options from the file.
	var configFileError error
	cfg := preCfg
	if err := flags.IniParse(configFilePath, &cfg); err != nil {
		// If it's a parsing related error, then we'll return
		// immediately, otherwise we can proceed as possibly the config
		// file doesn't exist which is OK.
		var iniErr *flags.IniError
		if errors.As(err, &iniErr) {
			return nil, err
		}

		configFileError = err
	}

	// Finally, parse the remaining command line options again to ensure
	// they take precedence.
	if _, err := flags.Parse(&cfg); err != nil {
		return nil, err
	}

	// Make sure everything we just loaded makes sense.
	cleanCfg, err := ValidateConfig(cfg, usageMessage)
	if err != nil {
		return nil, err
	}

	// Warn about missing config file only after all other configuration is
	// done. This prevents the warning on help messages and invalid
	// options. Note this should go directly before the return.
	if configFileError != nil {
		prnkLog.Warnf("%v", configFileError)
	}

	return cleanCfg, nil
}

// ValidateConfig check the given configuration to be sane. This makes sure no
// illegal values or combination of values are set. All file system paths are
// normalized. Logging is set up as a side effect. The cleaned up config is
// returned on success.
func ValidateConfig(cfg Config, usageMessage string) (*Config, error) {
	// If the provided base directory is not the default, we'll modify
	// the path to all of the files and directories that will live within
	// it.
	baseDir := lncfg.CleanAndExpandPath(cfg.PeerRankDir)
	if baseDir != DefaultPeerRankDir {
		if cfg.DataDir == defaultDataDir {
			cfg.DataDir = filepath.Join(baseDir, defaultDataDirname)
		}
		if cfg.LogDir == defaultLogDir {
			cfg.LogDir = filepath.Join(baseDir, defaultLogDirname)
		}
	}

	cfg.DataDir = lncfg.CleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = lncfg.CleanAndExpandPath(cfg.LogDir)
	cfg.Feed.GraphFile = lncfg.CleanAndExpandPath(cfg.Feed.GraphFile)

	// mkErr creates a new error with the given message and the usage
	// hint appended.
	mkErr := func(format string, args ...interface{}) error {
		return fmt.Errorf("ValidateConfig: "+format+"\n"+usageMessage,
			args...)
	}

	// The deprecated log options override the new ones if set.
	if cfg.MaxLogFiles != 0 {
		cfg.LogConfig.File.MaxLogFiles = cfg.MaxLogFiles
	}
	if cfg.MaxLogFileSize != 0 {
		cfg.LogConfig.File.MaxLogFileSize = cfg.MaxLogFileSize
	}
	if err := cfg.LogConfig.Validate(); err != nil {
		return nil, mkErr("error validating logging config: %w", err)
	}

	if cfg.MaxHistory < 0 {
		return nil, mkErr("maxhistory must not be negative")
	}
	if cfg.TableSize < 0 {
		return nil, mkErr("tablesize must not be negative")
	}

	// Initialize logging at the default logging level. The log file is
	// only opened once the rest of the configuration was accepted.
	cfg.SubLogMgr = build.NewSubLoggerManager(
		build.NewDefaultLogHandler(cfg.LogConfig, cfg.LogRotator),
	)
	SetupLoggers(cfg.SubLogMgr)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems",
			cfg.SubLogMgr.SupportedSubsystems())
		os.Exit(0)
	}

	// Parse, validate, and set debug log level(s).
	err := build.ParseAndSetDebugLevels(cfg.DebugLevel, cfg.SubLogMgr)
	if err != nil {
		return nil, mkErr("error parsing debug level: %w", err)
	}

	if err := cfg.Feed.Validate(); err != nil {
		return nil, mkErr("%w", err)
	}

	pilot, err := cfg.Autopilot.Parse()
	if err != nil {
		return nil, mkErr("invalid autopilot config: %w", err)
	}
	cfg.Pilot = pilot

	if cfg.Prometheus.Enable && cfg.Prometheus.Listen == "" {
		return nil, mkErr("prometheus.listen must be set")
	}

	if !cfg.LogConfig.File.Disable {
		logFile := filepath.Join(cfg.LogDir, lncfg.DefaultLogFilename)
		err := cfg.LogRotator.InitLogRotator(cfg.LogConfig.File, logFile)
		if err != nil {
			return nil, mkErr("log rotation setup failed: %w", err)
		}
	}

	return &cfg, nil
}
