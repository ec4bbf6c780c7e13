package logging

import "boulder/internal/walog"

// walReporter adapts Logger to walog.Reporter, so WAL replay can report
// corruption through the same structured logger as the rest of the
// engine instead of a bespoke interface implementation per caller.
type walReporter struct {
	lg      *Logger
	fileNum uint64
}

// WALReporter returns a walog.Reporter that logs corruption events
// against fileNum.
func (lg *Logger) WALReporter(fileNum uint64) walog.Reporter {
	return walReporter{lg: lg, fileNum: fileNum}
}

func (r walReporter) Corruption(bytes int, reason error) {
	r.lg.Corruption(r.fileNum, bytes, reason)
}
