package delivery

import (
	"errors"
	"fmt"
)

// ErrDataIntegrity - у доставки пропало сообщение или подписчик.
// Такую доставку ретраить бессмысленно, она сразу уходит в failed.
var ErrDataIntegrity = errors.New("data integrity")

// TransientError - неудачный пуш, который стоит повторить: не-2xx ответ,
// сетевая ошибка или таймаут.
type TransientError struct {
	StatusCode int // 0, если ответа не было
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("subscriber answered %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("push failed: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
