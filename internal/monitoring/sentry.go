package monitoring

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// InitSentry включает отправку ошибок. Пустой dsn оставляет клиента выключенным.
// Возвращаемая функция сбрасывает буфер событий при остановке процесса.
func InitSentry(dsn, env, release string) (func(), error) {
	if dsn == "" {
		return func() {}, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      env,
		Release:          "consultation-slots@" + release,
		TracesSampleRate: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry initialization failed: %w", err)
	}

	return func() { sentry.Flush(2 * time.Second) }, nil
}

func CaptureError(err error, extra map[string]interface{}) {
	if hub := sentry.CurrentHub(); hub != nil {
		hub.WithScope(func(scope *sentry.Scope) {
			for k, v := range extra {
				scope.SetExtra(k, v)
			}
			hub.CaptureException(err)
		})
	}
}
