package notifications

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogNotifier writes alerts and digests to the log. It stands in when
// no Telegram token is configured so the pipeline keeps classifying
// and persisting without a delivery channel.
type LogNotifier struct{}

var _ Interface = (*LogNotifier)(nil)

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (l *LogNotifier) SendAlert(_ context.Context, message, label, fp string) error {
	logrus.Infof("Alert [%s] %s: %s", label, fp, message)
	return nil
}

func (l *LogNotifier) SendDigest(_ context.Context, message string) error {
	logrus.Infof("Digest: %s", message)
	return nil
}
