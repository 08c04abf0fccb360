package frontend

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewAccessLogger builds a logrus.Logger writing one line per event to
// path (or stderr if path is empty), appending to the file. Lines use
// logrus's TextFormatter: a `time="YYYY-MM-DD HH:MM:SS"` field, then level,
// msg (the event kind), and kind, remote and any detail fields as
// key=value pairs. The bracketed `YYYY-MM-DD HH:MM:SS [KIND] remote details`
// layout is not produced.
func NewAccessLogger(path string) (*logrus.Logger, error) {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		DisableColors:   true,
	})
	if path == "" {
		l.SetOutput(os.Stderr)
		return l, nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	l.SetOutput(f)
	return l, nil
}

func logEvent(l *logrus.Logger, kind, remote string, fields logrus.Fields) {
	entry := l.WithField("kind", kind).WithField("remote", remote)
	if fields != nil {
		entry = entry.WithFields(fields)
	}
	entry.Info(kind)
}
