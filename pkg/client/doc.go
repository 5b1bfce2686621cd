// Package client provides a hand-written Go SDK for internal/diag, the
// scheduler introspection and admin HTTP+WebSocket API.
//
// # Basic Usage
//
//	c, err := client.New("http://localhost:8181")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	snap, err := c.SpawnCoprocess(ctx, client.SpawnRequest{
//	    Type:    "echo",
//	    Payload: map[string]any{"message": "hi"},
//	})
//
// # Trace Stream
//
//	err := c.ConnectTraceStream(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.CloseTraceStream()
//
//	for ev := range c.TraceEvents() {
//	    fmt.Printf("event: %s\n", ev.Kind)
//	}
//
// # Configuration
//
// The client supports functional options for configuration:
//
//	c, err := client.New("http://localhost:8181",
//	    client.WithAPIKey("your-api-key"),
//	    client.WithTimeout(30 * time.Second),
//	)
package client
