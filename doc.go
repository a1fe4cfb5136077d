// Package outlit is the Go client for the Outlit product-analytics API.
//
// A Client buffers tracking events in a bounded in-memory queue and delivers
// them in batches, in enqueue order, with retry and backoff. Capture is gated
// on actor consent, anonymous actors are merged onto identified ones at
// identify time, and Stripe billing webhooks drive a per-customer lifecycle
// state machine whose transitions feed back into the same event stream.
//
// Construct one Client at process start and pass it to call sites; call
// Shutdown before exit to flush remaining events:
//
//	client, err := outlit.New(outlit.Options{APIKey: os.Getenv("OUTLIT_KEY")})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Shutdown(context.Background())
//
//	client.Track("feature_used", outlit.Properties{"feature": "export"})
//
// Tracking never interrupts the host application: every failure past
// construction is absorbed, logged, and surfaced only through metrics and the
// Flush/Shutdown results.
package outlit
