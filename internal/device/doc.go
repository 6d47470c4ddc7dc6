// Package device provides the device registry and telemetry cache for
// ferrobot core.
//
// The registry is the set of live logical devices (motor controllers,
// gyros) that application code has constructed. The cache holds the most
// recent telemetry payload the host supplied for each device. The two are
// kept separately: a device may be registered before its first telemetry
// arrives, and the host may report devices nobody has registered.
//
// # Architecture
//
//	┌────────────────────────────────────────────────────────────────┐
//	│                           Registry                              │
//	│                                                                 │
//	│  ┌───────────────────┐          ┌───────────────────────────┐   │
//	│  │   devices table   │          │       telemetry cache     │   │
//	│  │  Identity→Handler │          │   Identity→[]byte payload │   │
//	│  │  (devicesMu)      │          │   (cacheMu)               │   │
//	│  └───────────────────┘          └───────────────────────────┘   │
//	│            ▲                                ▲                   │
//	└────────────│────────────────────────────────│───────────────────┘
//	             │ AddDevice / RemoveDevice       │ Replace(snapshot)
//	             │ SetTelemetryHandler            │
//	      device façades                     host (Supply)
//
// Replace swaps the whole cache at once and returns. A background task,
// scheduled through the Spawner, then invokes the telemetry handler of
// every registered device present in the new snapshot. The two locks are
// never held together and never held while a handler runs.
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use.
//
// # Usage
//
//	reg := device.NewRegistry(runtime)
//	reg.SetLogger(logger)
//
//	id := device.Identity{Kind: device.KindSparkMax, ID: 7}
//	if err := reg.AddDevice(id); err != nil {
//	    return err
//	}
//	reg.SetTelemetryHandler(id, func(ctx context.Context, payload []byte) {
//	    // decode and publish
//	})
package device
