package logger

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Logger provides leveled logging (info/warning/error) to files and stdout/stderr.
type Logger struct {
	infoLog    *log.Logger
	warningLog *log.Logger
	errorLog   *log.Logger
	logDir     string
	mu         sync.Mutex
}

// New creates a Logger writing into logDir, creating the directory if needed.
func New(logDir string) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}

	l := &Logger{logDir: logDir}
	if err := l.setupLoggers(); err != nil {
		return nil, err
	}
	return l, nil
}

// setupLoggers initializes writers and per-level loggers.
func (l *Logger) setupLoggers() error {
	infoFile, err := l.openLogFile(filepath.Join(l.logDir, "info.log"))
	if err != nil {
		return err
	}
	warningFile, err := l.openLogFile(filepath.Join(l.logDir, "warning.log"))
	if err != nil {
		return err
	}
	errorFile, err := l.openLogFile(filepath.Join(l.logDir, "error.log"))
	if err != nil {
		return err
	}

	l.infoLog = log.New(io.MultiWriter(os.Stdout, infoFile), "INFO    ", log.Ldate|log.Ltime|log.Lshortfile)
	l.warningLog = log.New(io.MultiWriter(os.Stdout, warningFile), "WARNING ", log.Ldate|log.Ltime|log.Lshortfile)
	l.errorLog = log.New(io.MultiWriter(os.Stderr, errorFile), "ERROR   ", log.Ldate|log.Ltime|log.Lshortfile)
	return nil
}

// openLogFile opens or creates a log file for appending.
func (l *Logger) openLogFile(filename string) (*os.File, error) {
	return os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoLog.Printf(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warningLog.Printf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorLog.Printf(format, v...)
}
