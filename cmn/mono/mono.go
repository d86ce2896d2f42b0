// Package mono provides a monotonic nanosecond clock for the scheduler,
// the TX queue engine's deadline math, and log flush pacing.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package mono

import "time"

var start = time.Now()

// NanoTime returns nanoseconds elapsed since process start. It is strictly
// monotonic and cheap enough to call on every scheduler wakeup.
func NanoTime() int64 { return int64(time.Since(start)) }
