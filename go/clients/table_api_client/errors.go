package table_api_client

import (
	"errors"
	"fmt"

	"github.com/mcdev12/tablesync/go/clients"
)

// ActionError reports a rejected or undeliverable action. StatusCode is 0 when
// the request never got a response.
type ActionError struct {
	Action     Action
	StatusCode int
	Body       string
	Err        error
}

func (e *ActionError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("action %s failed: %v", e.Action, e.Err)
	}
	return fmt.Sprintf("action %s rejected with status %d: %s", e.Action, e.StatusCode, e.Body)
}

func (e *ActionError) Unwrap() error { return e.Err }

func newActionError(action Action, err error) *ActionError {
	var statusErr *clients.StatusError
	if errors.As(err, &statusErr) {
		return &ActionError{
			Action:     action,
			StatusCode: statusErr.StatusCode,
			Body:       string(statusErr.Body),
			Err:        err,
		}
	}
	return &ActionError{Action: action, Err: err}
}
