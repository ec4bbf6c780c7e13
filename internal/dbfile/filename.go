// Package dbfile names and parses the files a database directory owns:
// write-ahead logs, sorted tables, the manifest, CURRENT, LOCK, the info
// log, and temporary files. Modeled on LevelDB's db/filename.cc.
package dbfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FileNum identifies a single generated file within a database directory.
// Numbers are assigned by the caller (the database's next-file-number
// counter) and are never reused.
type FileNum uint64

// FileType classifies what a database file is used for.
type FileType int

const (
	FileTypeLog FileType = iota
	FileTypeTable
	FileTypeDescriptor // MANIFEST-NNNNNN
	FileTypeCurrent
	FileTypeLock
	FileTypeInfoLog
	FileTypeTemp
)

func (t FileType) String() string {
	switch t {
	case FileTypeLog:
		return "log"
	case FileTypeTable:
		return "table"
	case FileTypeDescriptor:
		return "descriptor"
	case FileTypeCurrent:
		return "current"
	case FileTypeLock:
		return "lock"
	case FileTypeInfoLog:
		return "info-log"
	case FileTypeTemp:
		return "temp"
	default:
		return "unknown"
	}
}

func makeFileName(dbDir string, number FileNum, suffix string) string {
	return filepath.Join(dbDir, fmt.Sprintf("%06d.%s", number, suffix))
}

// LogFileName returns the path of the write-ahead log numbered number.
func LogFileName(dbDir string, number FileNum) string {
	return makeFileName(dbDir, number, "log")
}

// TableFileName returns the path of the sorted table numbered number, using
// the current (non-legacy) suffix.
func TableFileName(dbDir string, number FileNum) string {
	return makeFileName(dbDir, number, "ldb")
}

// DescriptorFileName returns the path of the manifest file numbered number.
func DescriptorFileName(dbDir string, number FileNum) string {
	return filepath.Join(dbDir, fmt.Sprintf("MANIFEST-%06d", number))
}

// CurrentFileName returns the path of the CURRENT file, which names the
// active manifest.
func CurrentFileName(dbDir string) string {
	return filepath.Join(dbDir, "CURRENT")
}

// LockFileName returns the path of the database's advisory lock file.
func LockFileName(dbDir string) string {
	return filepath.Join(dbDir, "LOCK")
}

// TempFileName returns the path of a temporary file numbered number, used
// while atomically installing a new CURRENT or manifest.
func TempFileName(dbDir string, number FileNum) string {
	return makeFileName(dbDir, number, "dbtmp")
}

// InfoLogFileName returns the path of the active text log file.
func InfoLogFileName(dbDir string) string {
	return filepath.Join(dbDir, "LOG")
}

// OldInfoLogFileName returns the path the previous text log file is
// rotated to when a new one is opened.
func OldInfoLogFileName(dbDir string) string {
	return filepath.Join(dbDir, "LOG.old")
}

// legacyTableFileName returns the path of the sorted table numbered number
// under the legacy ".sst" suffix.
func legacyTableFileName(dbDir string, number FileNum) string {
	return makeFileName(dbDir, number, "sst")
}

// ResolveTableFile returns the path of the sorted table numbered number,
// preferring the current ".ldb" suffix and falling back to the legacy
// ".sst" suffix if only that exists. New tables are always written with
// TableFileName (".ldb" only); this resolver exists so a database that
// still has files from before a rename convention change can still open
// them.
func ResolveTableFile(dbDir string, number FileNum) (string, error) {
	path := TableFileName(dbDir, number)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	legacy := legacyTableFileName(dbDir, number)
	if _, err := os.Stat(legacy); err == nil {
		return legacy, nil
	}
	return "", fmt.Errorf("dbfile: no table file for number %d (tried %s and %s)", number, path, legacy)
}

// ParsedFileName is the decoded form of a single filename (the base name,
// not a full path) within a database directory.
type ParsedFileName struct {
	Number FileNum
	Type   FileType
}

// ParseFileName classifies name (a base name, as returned by
// filepath.Base), per the same rules LevelDB's ParseFileName applies. ok is
// false if name does not belong to any recognized file type.
func ParseFileName(name string) (parsed ParsedFileName, ok bool) {
	switch name {
	case "CURRENT":
		return ParsedFileName{Type: FileTypeCurrent}, true
	case "LOCK":
		return ParsedFileName{Type: FileTypeLock}, true
	case "LOG", "LOG.old":
		return ParsedFileName{Type: FileTypeInfoLog}, true
	}

	if rest, found := strings.CutPrefix(name, "MANIFEST-"); found {
		num, err := strconv.ParseUint(rest, 10, 64)
		if err != nil {
			return ParsedFileName{}, false
		}
		return ParsedFileName{Number: FileNum(num), Type: FileTypeDescriptor}, true
	}

	dot := strings.LastIndexByte(name, '.')
	if dot < 0 {
		return ParsedFileName{}, false
	}
	numPart, suffix := name[:dot], name[dot+1:]
	num, err := strconv.ParseUint(numPart, 10, 64)
	if err != nil {
		return ParsedFileName{}, false
	}

	var typ FileType
	switch suffix {
	case "log":
		typ = FileTypeLog
	case "ldb", "sst":
		typ = FileTypeTable
	case "dbtmp":
		typ = FileTypeTemp
	default:
		return ParsedFileName{}, false
	}
	return ParsedFileName{Number: FileNum(num), Type: typ}, true
}
