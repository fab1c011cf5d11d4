// Package log builds the logrus formatters used by condo_sync binaries.
package log

import (
	"time"

	"github.com/sirupsen/logrus"
)

// NewFormatter returns a JSON formatter for log shippers or a text formatter
// with full timestamps for terminals.
func NewFormatter(json bool) logrus.Formatter {
	if json {
		return &logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyMsg: "message",
			},
		}
	}
	return &logrus.TextFormatter{
		FullTimestamp:    true,
		TimestampFormat:  "2006-01-02 15:04:05.000",
		QuoteEmptyFields: true,
	}
}
