package pbench

import "time"

var epoch = time.Now()

// NowMicros returns microseconds since the Unix epoch. The wall clock is
// read once at startup and advanced by the monotonic clock afterwards, so
// successive values never go backwards within a process.
func NowMicros() uint64 {
	return uint64(epoch.UnixMicro() + time.Since(epoch).Microseconds())
}
