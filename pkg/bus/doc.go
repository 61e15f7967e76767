// Package bus publishes murmur run events over Redis Pub/Sub so a separate
// process can follow a bulk run as it happens.
//
// # Overview
//
// Every engine run emits a stream of events: state transitions, periodic
// progress snapshots and the final report. The bus is optional. A run with
// no Redis configured publishes nowhere and behaves identically.
//
// # Namespacing
//
// Keys and channels are namespaced so several deployments can share one
// Redis server:
//
//	murmur:{namespace}:run_events        Pub/Sub channel for all events
//	murmur:{namespace}:run:{run_id}      hash with the latest run status
//	murmur:{namespace}:runs              sorted set of run ids by start time
//
// # Delivery
//
// Pub/Sub is at-most-once. Subscribers that join late miss earlier events
// and should read the run hash for the current status.
//
// # Usage
//
//	client, err := bus.NewClient(&redis.Options{Addr: "localhost:6379"}, "prod")
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	sub, err := client.Subscribe(ctx)
//	if err != nil {
//		return err
//	}
//	defer sub.Close()
//
//	for ev := range sub.Events() {
//		fmt.Println(ev.Type, ev.State)
//	}
package bus
