package upload

import (
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// Level of a notification.
type Level string

// Levels
const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	// LevelWarning is used for bytes that reached storage but were not registered.
	LevelWarning Level = "warning"
)

// Notification tells the user about a finished background upload.
type Notification struct {
	Level    Level
	UploadID string
	FileName string
	Size     int64
	Message  string
}

// Notifier delivers notifications. It is called from upload goroutines.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc ...
type NotifierFunc func(n Notification)

// Notify ...
func (f NotifierFunc) Notify(n Notification) {
	f(n)
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	logger log.Logger
}

// NewLogNotifier ...
func NewLogNotifier(logger log.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify ...
func (n *LogNotifier) Notify(notification Notification) {
	size := units.HumanSizeWithPrecision(float64(notification.Size), 3)
	switch notification.Level {
	case LevelSuccess:
		n.logger.Donef("%s (%s) uploaded", notification.FileName, size)
	case LevelWarning:
		n.logger.Warnf("%s (%s): %s", notification.FileName, size, notification.Message)
	default:
		n.logger.Errorf("%s (%s): %s", notification.FileName, size, notification.Message)
	}
}
