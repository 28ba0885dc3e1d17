package adapters

import (
	"context"
	"log/slog"
)

// LogPushNotifier stands in for the mobile push pipeline: offline
// notifications are logged and the summary is handed nowhere else.
// The real FCM integration lives outside this service.
type LogPushNotifier struct {
	logger *slog.Logger
}

func NewLogPushNotifier(logger *slog.Logger) *LogPushNotifier {
	return &LogPushNotifier{logger: logger}
}

func (n *LogPushNotifier) NotifyOffline(ctx context.Context, userID, summary string) {
	n.logger.Info("offline notification queued", "userID", userID, "summary", summary)
}
