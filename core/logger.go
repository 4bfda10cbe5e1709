package core

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
)

type LoggerConfig struct {
	LogLevel      hclog.Level
	JSONLogFormat bool
	LogsDirectory string
	LogFile       string
	Name          string
}

// NewLogger builds the process logger. With no LogFile configured output goes
// to stderr; components derive their own named sub-loggers from it.
func NewLogger(config LoggerConfig) (hclog.Logger, error) {
	var logFileWriter *os.File

	if config.LogFile != "" {
		fullFilePath := config.LogFile

		if config.LogsDirectory != "" {
			if dirErr := os.MkdirAll(config.LogsDirectory, os.ModePerm); dirErr == nil {
				fullFilePath = filepath.Join(config.LogsDirectory, fullFilePath)
			}
		}

		var err error

		logFileWriter, err = os.OpenFile(fullFilePath, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0600)
		if err != nil {
			return nil, fmt.Errorf("could not create or open log file, %w", err)
		}
	}

	options := &hclog.LoggerOptions{
		Name:       config.Name,
		Level:      config.LogLevel,
		JSONFormat: config.JSONLogFormat,
	}

	if logFileWriter != nil {
		options.Output = logFileWriter
	}

	return hclog.New(options), nil
}
