package queue

import (
	"fmt"
	"strings"
	"time"
)

// Config contains the configuration for the delayed queue.
type Config struct {
	Workers      int           // number of workers
	QueueSize    int           // dispatch channel buffer
	PollInterval time.Duration // how often due tasks are fetched
	RetryLimit   int           // number of maximum retries
	RetryDelay   time.Duration // time delay between retries
}

// Task is one scheduled unit of work. Kind selects the registered job,
// Key identifies the subject. The (Kind, Key) pair is the task's identity:
// scheduling it again moves the existing task instead of adding a second one.
type Task struct {
	Kind  string
	Key   string
	RunAt time.Time
}

// Kind must not contain the separator.
const memberSep = ":"

func memberOf(kind, key string) string {
	return kind + memberSep + key
}

func parseMember(member string) (kind, key string, err error) {
	parts := strings.SplitN(member, memberSep, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed task member: %q", member)
	}
	return parts[0], parts[1], nil
}
