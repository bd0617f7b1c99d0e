package fdbk

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when a topic, template or data point does
	// not exist in the storage backend.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for malformed topics and data writes
	// that do not match the topic definition.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicate is returned when a topic id or a data point timestamp
	// is already taken and overwriting was not requested.
	ErrDuplicate = errors.Wrap(ErrValidation, "duplicate")
)

func topicString(t *Topic) string { return fmt.Sprintf("%s (%s)", t.Name, t.ID) }

// CollectionNameIsUndefined is the warning for list and table items
// without a target collection name.
func CollectionNameIsUndefined(method, field string) string {
	return fmt.Sprintf("No target list name specified for %s %s.", method, field)
}

// FieldIsUndefined is the warning for data tools referencing a field
// the topic does not declare.
func FieldIsUndefined(field string) string {
	return fmt.Sprintf("The requested field \"%s\" is undefined.", field)
}

// MethodNotSupported is the warning for unknown data tool methods.
func MethodNotSupported(method string) string {
	return fmt.Sprintf("The requested method \"%s\" is not supported.", method)
}

// NoData is the warning for empty data sets. The topic is optional.
func NoData(t *Topic) string {
	if t == nil {
		return "No data found."
	}
	return fmt.Sprintf("No data found for topic %s.", topicString(t))
}

// TopicNotFound is the warning for unknown topic ids.
func TopicNotFound(id string) string {
	return fmt.Sprintf("Topic ID \"%s\" not found from database.", id)
}

// DuplicateTimestamp describes a rejected write to a taken timestamp.
func DuplicateTimestamp(t *Topic, ts time.Time) string {
	return fmt.Sprintf("Topic %s already has data for given timestamp (%s).", topicString(t), FormatTimestamp(ts))
}

// DuplicateTopicID describes a rejected topic with a taken id.
func DuplicateTopicID(id string) string {
	return fmt.Sprintf("Topic ID \"%s\" already found from the database.", id)
}
