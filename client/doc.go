// Package client is the caller side of shared resource sessions. It maps the
// five client behaviors onto the three server behaviors, wraps the result of
// initialize in a Session whose release rule is fixed at acquisition, and
// offers Run for scoped units of work:
//
//	err := client.Run(ctx, transport, "ndjson-logger", "/tmp/run.ndjson",
//		func(ctx context.Context, s *client.Session) error {
//			return s.Invoke(ctx, "log_measurement", entry, nil)
//		},
//		client.WithBehavior(client.AttachToSessionThenClose),
//	)
//
// Behavior table:
//
//	AUTO                            UNSPECIFIED         close iff newly created
//	INITIALIZE_SERVER_SESSION       INITIALIZE_NEW      always close
//	ATTACH_TO_SERVER_SESSION        ATTACH_TO_EXISTING  never close
//	INITIALIZE_SESSION_THEN_DETACH  INITIALIZE_NEW      never close
//	ATTACH_TO_SESSION_THEN_CLOSE    ATTACH_TO_EXISTING  always close
//
// Any Transport works: LocalTransport talks to in-process registries and the
// httpapi package provides one over HTTP.
package client
