package session

import "errors"

var (
	// ErrBusy is returned when an action is submitted while another one is
	// still being narrated.
	ErrBusy = errors.New("session: another action is in flight")

	// ErrEmptyAction is returned for actions that are blank after trimming.
	ErrEmptyAction = errors.New("session: action must not be empty")

	// ErrGenerationTimeout is returned when the narrator did not answer
	// within the generation timeout.
	ErrGenerationTimeout = errors.New("session: narrative generation timed out")

	// ErrGenerationFailed wraps transport and backend failures of the narrator.
	ErrGenerationFailed = errors.New("session: narrative generation failed")

	// ErrMalformedResponse is returned when the narrator answered without text.
	ErrMalformedResponse = errors.New("session: narrator returned no text")

	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("session: closed")

	// ErrAlreadyStarted is returned by Start when the log is not empty.
	ErrAlreadyStarted = errors.New("session: story already started")

	// ErrNothingToRetry is returned by Retry when the last turn already has a
	// narrator response.
	ErrNothingToRetry = errors.New("session: no unanswered action to retry")

	// ErrTurnNotFound is returned when a turn ID is not in the message log.
	ErrTurnNotFound = errors.New("session: turn not found")

	// ErrDuplicateTurn is returned when appending a turn whose ID is taken.
	ErrDuplicateTurn = errors.New("session: duplicate turn id")

	// ErrEpisodeRegression is returned when appending a turn whose episode is
	// lower than the last turn's.
	ErrEpisodeRegression = errors.New("session: episode must not decrease")

	// ErrInvalidCharacter is returned when adding a character without a name.
	ErrInvalidCharacter = errors.New("session: character name must not be empty")

	errNoImage = errors.New("session: image provider returned no url")
)

// IsRetryable reports whether err left the session idle with the player's
// turn intact, so the same request can simply be made again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy) ||
		errors.Is(err, ErrGenerationTimeout) ||
		errors.Is(err, ErrGenerationFailed) ||
		errors.Is(err, ErrMalformedResponse)
}
