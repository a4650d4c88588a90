package llm

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrProvider wraps every failed completion or embedding call.
	ErrProvider = errors.New("provider error")
	// ErrFatalAPI marks failures that retrying cannot fix (credits, auth, quota).
	ErrFatalAPI = errors.New("fatal API error")
)

var fatalPatterns = []string{
	"credit balance",
	"rate limit",
	"quota",
	"billing",
	"invalid api key",
	"authentication",
	"unauthorized",
	"401",
	"403",
}

func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range fatalPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// wrapFatalError tags fatal errors with ErrFatalAPI and returns others unchanged.
func wrapFatalError(err error) error {
	if !isFatalAPIError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrFatalAPI, err)
}
