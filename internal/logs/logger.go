package logs

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/standardbeagle/blink/pkg/events"
)

// New returns a text logger writing to w at the named level.
func New(level string, w io.Writer) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	return logger, nil
}

// TraceEvents logs every controller event on the bus at debug level.
func TraceEvents(bus *events.EventBus, logger logrus.FieldLogger) {
	for _, t := range []events.EventType{
		events.BlinkStarted,
		events.LevelChanged,
		events.CycleDone,
		events.BlinkStopped,
	} {
		bus.Subscribe(t, func(e events.Event) {
			logger.WithFields(logrus.Fields(e.Data)).WithFields(logrus.Fields{
				"event":  string(e.Type),
				"source": e.Source,
			}).Debug("controller event")
		})
	}
}
