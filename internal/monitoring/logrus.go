package monitoring

import (
	"io"

	"github.com/sirupsen/logrus"
)

// NewLogrus builds the logger used by the cartvision binary.
func NewLogrus(out io.Writer, level string, jsonFormat bool) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(lvl)
	if jsonFormat {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l, nil
}

// UseLogrus routes Logf, Warnf and Debugf through l at the matching levels.
func UseLogrus(l *logrus.Logger) {
	if l == nil {
		Mute()
		return
	}
	SetLogger(l.Infof)
	SetWarnLogger(l.Warnf)
	SetDebugLogger(l.Debugf)
}
