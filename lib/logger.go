package lib

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/ziflex/lecho/v3"
)

// Logger writes structured logs to STDOUT or, when a log file path is
// configured, to a date-stamped file.
func Logger(logFilePath string) *lecho.Logger {
	logger := lecho.New(
		os.Stdout, // default to STDOUT
		lecho.WithLevel(log.INFO),
		lecho.WithTimestamp(),
	)
	if logFilePath != "" {
		file, err := loggingFile(logFilePath)
		if err != nil {
			logger.Errorf("failed to create logging file: %v", err)
		} else {
			logger.SetOutput(file)
		}
	}

	return logger
}

func loggingFile(path string) (*os.File, error) {
	extension := filepath.Ext(path)
	stamp := time.Now().Format("2006-01-02")
	if extension != "" {
		path = strings.Replace(path, extension, "-"+stamp+extension, 1)
	} else {
		path = path + "-" + stamp + ".log"
	}

	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0664)
}
