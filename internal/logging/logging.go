// Package logging wraps github.com/sirupsen/logrus into the small
// structured-logging surface the engine's internals call into: WAL
// corruption reports, table cache eviction diagnostics, and recovery
// bookkeeping. Modeled on patchbrain-mini-bitcask's use of logrus for its
// file-manager and codec diagnostics, filling the seam LevelDB's
// Options.info_log covers.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the engine-wide logging handle. The zero value is not usable;
// construct one with New.
type Logger struct {
	entry *logrus.Entry
}

// New returns a Logger writing JSON-formatted entries to w (os.Stderr if
// w is nil), tagged with the given database directory.
func New(w io.Writer, dir string) *Logger {
	if w == nil {
		w = os.Stderr
	}
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.JSONFormatter{})
	return &Logger{entry: l.WithField("dir", dir)}
}

// Nop returns a Logger that discards everything, for callers (tests,
// tools) that don't want log output.
func Nop() *Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Logger{entry: logrus.NewEntry(l)}
}

// Corruption reports a WAL or table block corruption. fileNum identifies the
// file it was found in.
func (lg *Logger) Corruption(fileNum uint64, bytesSkipped int, reason error) {
	lg.entry.WithFields(logrus.Fields{
		"file_num":      fileNum,
		"bytes_skipped": bytesSkipped,
		"reason":        reason,
	}).Warn("corruption detected, skipping")
}

// TableEvicted reports that a table reader was evicted from the table
// cache.
func (lg *Logger) TableEvicted(fileNum uint64) {
	lg.entry.WithField("file_num", fileNum).Debug("table reader evicted")
}

// TableOpened reports that a table reader was opened and inserted into
// the table cache.
func (lg *Logger) TableOpened(fileNum uint64) {
	lg.entry.WithField("file_num", fileNum).Debug("table reader opened")
}

// RecoveryStarted reports that log replay is beginning at the given
// sequence number.
func (lg *Logger) RecoveryStarted(logFileNum uint64, startSeq uint64) {
	lg.entry.WithFields(logrus.Fields{
		"log_file_num": logFileNum,
		"start_seq":    startSeq,
	}).Info("recovering write-ahead log")
}

// RecoveryFinished reports the outcome of a completed log replay.
func (lg *Logger) RecoveryFinished(logFileNum uint64, entries int, endSeq uint64) {
	lg.entry.WithFields(logrus.Fields{
		"log_file_num": logFileNum,
		"entries":      entries,
		"end_seq":      endSeq,
	}).Info("recovered write-ahead log")
}

// Errorf logs a formatted error-level message.
func (lg *Logger) Errorf(format string, args ...any) {
	lg.entry.Errorf(format, args...)
}

// FlushFinished reports that the active memtable was flushed to a new
// sorted table file.
func (lg *Logger) FlushFinished(fileNum uint64, entries int) {
	lg.entry.WithFields(logrus.Fields{
		"file_num": fileNum,
		"entries":  entries,
	}).Info("flushed memtable to table file")
}
