package build

import (
	"io"
	"os"
	"sort"
	"sync"

	"github.com/btcsuite/btclog/v2"
)

// NewDefaultLogHandler returns the handler writing to the enabled outputs of
// the given config: stdout and the rotating log file. The options of the
// console logger apply unless it is disabled, in which case the file
// logger's options are used.
func NewDefaultLogHandler(cfg *LogConfig,
	rotator *RotatingLogWriter) btclog.Handler {

	var (
		writers []io.Writer
		opts    []btclog.HandlerOption
	)
	if !cfg.File.Disable && rotator != nil {
		writers = append(writers, rotator)
		opts = cfg.File.HandlerOptions()
	}
	if !cfg.Console.Disable {
		writers = append(writers, os.Stdout)
		opts = cfg.Console.HandlerOptions()
	}

	if len(writers) == 0 {
		return btclog.NewDefaultHandler(io.Discard)
	}

	return btclog.NewDefaultHandler(io.MultiWriter(writers...), opts...)
}

// SubLoggerManager hands out the subsystem loggers of the application and
// keeps track of them so their levels can be changed at runtime.
type SubLoggerManager struct {
	root btclog.Logger

	mu         sync.Mutex
	subLoggers SubLoggers
}

// A compile time check to ensure SubLoggerManager implements the
// LeveledSubLogger interface.
var _ LeveledSubLogger = (*SubLoggerManager)(nil)

// NewSubLoggerManager constructs a SubLoggerManager writing through the
// given handler.
func NewSubLoggerManager(handler btclog.Handler) *SubLoggerManager {
	return &SubLoggerManager{
		root:       btclog.NewSLogger(handler),
		subLoggers: make(SubLoggers),
	}
}

// GenSubLogger creates a new logger tagged with the given subsystem. It is
// not registered with the manager.
func (r *SubLoggerManager) GenSubLogger(subsystem string) btclog.Logger {
	return r.root.SubSystem(subsystem)
}

// RegisterSubLogger creates and registers the logger of the given subsystem
// and hands it to each of the passed use functions.
func (r *SubLoggerManager) RegisterSubLogger(subsystem string,
	useLoggers ...func(btclog.Logger)) btclog.Logger {

	logger := NewSubLogger(subsystem, r.GenSubLogger)

	r.mu.Lock()
	r.subLoggers[subsystem] = logger
	r.mu.Unlock()

	for _, useLogger := range useLoggers {
		useLogger(logger)
	}

	return logger
}

// SubLoggers returns all currently registered subsystem loggers.
//
// NOTE: This is part of the LeveledSubLogger interface.
func (r *SubLoggerManager) SubLoggers() SubLoggers {
	r.mu.Lock()
	defer r.mu.Unlock()

	loggers := make(SubLoggers, len(r.subLoggers))
	for subsystem, logger := range r.subLoggers {
		loggers[subsystem] = logger
	}

	return loggers
}

// SupportedSubsystems returns a sorted list of the registered subsystems.
//
// NOTE: This is part of the LeveledSubLogger interface.
func (r *SubLoggerManager) SupportedSubsystems() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	subsystems := make([]string, 0, len(r.subLoggers))
	for subsystem := range r.subLoggers {
		subsystems = append(subsystems, subsystem)
	}
	sort.Strings(subsystems)

	return subsystems
}

// SetLogLevel sets the logging level for the provided subsystem. Invalid
// subsystems are ignored.
//
// NOTE: This is part of the LeveledSubLogger interface.
func (r *SubLoggerManager) SetLogLevel(subsystemID string, logLevel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.setLogLevelUnsafe(subsystemID, logLevel)
}

// SetLogLevels sets the log level for all subsystem loggers to the passed
// level.
//
// NOTE: This is part of the LeveledSubLogger interface.
func (r *SubLoggerManager) SetLogLevels(logLevel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for subsystemID := range r.subLoggers {
		r.setLogLevelUnsafe(subsystemID, logLevel)
	}
}

// setLogLevelUnsafe sets the level of a single subsystem logger.
//
// NOTE: the mutex must be held.
func (r *SubLoggerManager) setLogLevelUnsafe(subsystemID string,
	logLevel string) {

	logger, ok := r.subLoggers[subsystemID]
	if !ok {
		return
	}

	// Defaults to info if the log level is invalid.
	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}
