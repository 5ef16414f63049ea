// Package timeouts defines shared timeout constants used across the engine
// runtime. Centralizing these values prevents drift between the worker loops
// and makes the durations discoverable.
package timeouts

import "time"

// Shutdown limits how long the runtime waits for in-flight work during
// graceful shutdown.
const Shutdown = 5 * time.Second

// OutboxDispatch caps a single outbox event dispatch through the publisher
// port.
const OutboxDispatch = 10 * time.Second

// TimerEffect caps a single timer-effects application after expiry.
const TimerEffect = 10 * time.Second
