// Package heartbeat tracks shuffle server liveness through NATS KV.
//
// Each shuffle server runs a Publisher that writes a timestamp under its key
// at a fixed interval. The bucket is created with a TTL of about three
// intervals, so a crashed server disappears after three missed beats. A
// Monitor lists the live keys and serves them to the assignment authority as
// the candidate set for new and replacement assignments.
//
// # Key Format
//
// Server IDs usually contain characters that are not valid in KV keys
// ("host:port"), so keys carry the base64url form of the ID:
//
//	{prefix}.{base64url(serverID)}
//
// # Lifecycle
//
//	publisher := heartbeat.New(kv, "server-hb", "10.0.0.7:19999", 2*time.Second)
//	if err := publisher.Start(ctx); err != nil {
//	    return err
//	}
//	defer publisher.Stop()
//
//	monitor := heartbeat.NewMonitor(kv, "server-hb")
//	live, err := monitor.LiveServers(ctx)
package heartbeat
