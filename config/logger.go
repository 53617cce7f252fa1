package config

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger is the printf-style logger handed to the rest of the service.
type Logger interface {
	Printf(format string, v ...interface{})
}

// utcFormatter renders every entry's timestamp in UTC.
type utcFormatter struct {
	logrus.Formatter
}

func (u utcFormatter) Format(e *logrus.Entry) ([]byte, error) {
	e.Time = e.Time.UTC()
	return u.Formatter.Format(e)
}

func (c *Config) newFormatter() logrus.Formatter {
	disableTimestamp := c.LogTimezone == "none"

	var f logrus.Formatter
	if c.LogFormat == "json" {
		f = &logrus.JSONFormatter{
			TimestampFormat:  time.RFC3339,
			DisableTimestamp: disableTimestamp,
		}
	} else {
		f = &logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  "2006/01/02 15:04:05",
			DisableTimestamp: disableTimestamp,
			DisableColors:    true,
		}
	}

	if c.LogTimezone == "UTC" {
		return utcFormatter{f}
	}
	return f
}

func (c *Config) setLogger() error {
	formatter := c.newFormatter()

	access := logrus.New()
	access.SetOutput(os.Stdout)
	access.SetFormatter(formatter)
	if c.AccessLogLevel == "none" {
		access.SetOutput(io.Discard)
	}

	errs := logrus.New()
	errs.SetOutput(os.Stderr)
	errs.SetFormatter(formatter)

	c.AccessLogger = access
	c.ErrorLogger = errs

	return nil
}
