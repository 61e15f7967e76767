package bus

import "fmt"

// Key pattern: murmur:{namespace}:{entity}
// Channel pattern: murmur:{namespace}:run_events

// EventsChannel returns the Pub/Sub channel carrying run events.
func EventsChannel(namespace string) string {
	return fmt.Sprintf("murmur:%s:run_events", namespace)
}

// RunKey returns the hash holding the latest status of a run.
func RunKey(namespace, runID string) string {
	return fmt.Sprintf("murmur:%s:run:%s", namespace, runID)
}

// RunsKey returns the sorted set indexing runs by start time.
func RunsKey(namespace string) string {
	return fmt.Sprintf("murmur:%s:runs", namespace)
}
