// file: logger/logger.go

package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Log is the application-wide logger. It is usable before Init is called.
var Log = logrus.New()

// Init sets up the logger with the default JSON output at info level.
func Init() {
	Configure("info", "json")
}

// Configure applies the level and output format from configuration.
// Unknown levels fall back to info; any format other than "text" is JSON.
func Configure(level, format string) {
	Log.SetOutput(os.Stdout)

	if strings.ToLower(format) == "text" {
		Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		Log.SetFormatter(&logrus.JSONFormatter{})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)
}
