package topicspec

import "errors"

var (
	// ErrManagerClosed is returned by Subscribe after Close
	ErrManagerClosed = errors.New("topicspec: manager closed")

	// ErrEmptyTopic is returned by Subscribe for an empty topic id
	ErrEmptyTopic = errors.New("topicspec: empty topic id")

	// ErrNilClient is returned by NewManager without a transport
	ErrNilClient = errors.New("topicspec: nil transport client")
)
