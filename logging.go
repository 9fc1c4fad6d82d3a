/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

const logDate string = `2006-01-02T15:04:05.000-07:00`

// newLogger logs at info level, or debug level when verbose.
func newLogger(verbose bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: logDate,
	})

	log.SetLevel(logrus.InfoLevel)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	return log
}
