package logging

import (
	"io"

	"github.com/natefinch/lumberjack"
)

// FileOptions configures a size-rotated log file.
type FileOptions struct {
	Path       string
	MaxSizeMB  int // rotate after this many megabytes
	MaxBackups int // rotated files to keep, 0 keeps all
	MaxAgeDays int // days to keep rotated files, 0 keeps all
	Compress   bool
}

// OpenFile returns a writer appending to opts.Path and rotating it by size.
// The file is created on first write.
func OpenFile(opts FileOptions) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
}
