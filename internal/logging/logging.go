package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileName is the name of the rotating log file inside the log directory.
const FileName = "mtf-ensembles.log"

// Options selects the verbosity and destination of the global logger.
type Options struct {
	// Level is a zerolog level name; unknown or empty names mean info.
	Level string
	// Verbose forces at least debug output.
	Verbose bool
	// Dir overrides the log directory. When empty, LOGS_FOLDER is used,
	// then a logs directory beside the binary.
	Dir string
}

// ParseLevel maps a level name onto a zerolog level. verbose forces at
// least debug output. Unknown names fall back to info.
func ParseLevel(name string, verbose bool) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if verbose && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}
	return level
}

// Init points the global logger at stderr and a rotating file in the log
// directory. Stdout stays free for command output and the MCP transport.
func Init(opts Options) error {
	level := ParseLevel(opts.Level, opts.Verbose)
	zerolog.SetGlobalLevel(level)

	dir, err := resolveDir(opts.Dir)
	if err != nil {
		return err
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(dir, FileName),
		MaxSize:    16, // megabytes
		MaxBackups: 8,
		MaxAge:     90, // days
		Compress:   true,
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(console(os.Stderr), file)).
		With().
		Timestamp().
		Logger()
	return nil
}

func console(out *os.File) io.Writer {
	fd := out.Fd()
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd),
	}
}

// resolveDir picks the log directory and checks that it is writable.
// Logging starts before the configuration is loaded, so LOGS_FOLDER may
// only be set in the .env beside the binary.
func resolveDir(dir string) (string, error) {
	exeDir := ""
	if exe, err := os.Executable(); err == nil {
		exeDir = filepath.Dir(exe)
		_ = godotenv.Load(filepath.Join(exeDir, ".env"))
	}
	if dir == "" {
		dir = os.Getenv("LOGS_FOLDER")
	}
	if dir == "" {
		dir = filepath.Join(exeDir, "logs")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create log directory %q: %w", dir, err)
	}
	check, err := os.CreateTemp(dir, ".write-test-*")
	if err != nil {
		return "", fmt.Errorf("log directory %q is not writable: %w", dir, err)
	}
	check.Close()
	_ = os.Remove(check.Name())
	return dir, nil
}
