package pbench

import (
	"math/rand"

	"github.com/alarmfox/tcpbench/internal/workload"
)

// WorkRequest is sent by a client for every iteration.
type WorkRequest struct {
	Token         uint64        `msgpack:"tok"`
	SendTimestamp uint64        `msgpack:"sent"`
	Work          workload.Work `msgpack:"work"`
}

// WorkResponse echoes the request token and send time so that the client
// can compute latency without keeping per-request state.
type WorkResponse struct {
	Token          uint64 `msgpack:"tok"`
	SendTimestamp  uint64 `msgpack:"sent"`
	ProcessingTime uint64 `msgpack:"proc"`
	Result         []byte `msgpack:"res,omitempty"`
}

// LatencyRecord is one completed request as seen by the client. All values
// are in microseconds.
type LatencyRecord struct {
	Latency        uint64
	SendTimestamp  uint64
	ProcessingTime uint64
	RecvTimestamp  uint64
}

// WorkFunc turns a request into its response on the server.
type WorkFunc func(WorkRequest) WorkResponse

// DoWork runs the work carried by req and times it.
func DoWork(req WorkRequest) WorkResponse {
	start := NowMicros()
	result := workload.Run(req.Work)
	return WorkResponse{
		Token:          req.Token,
		SendTimestamp:  req.SendTimestamp,
		ProcessingTime: NowMicros() - start,
		Result:         result,
	}
}

func newRequest(w workload.Work) WorkRequest {
	return WorkRequest{
		Token:         rand.Uint64(),
		SendTimestamp: NowMicros(),
		Work:          w,
	}
}

// Record builds the latency record for r received at recv.
func (r WorkResponse) Record(recv uint64) LatencyRecord {
	if recv < r.SendTimestamp {
		recv = r.SendTimestamp
	}
	return LatencyRecord{
		Latency:        recv - r.SendTimestamp,
		SendTimestamp:  r.SendTimestamp,
		ProcessingTime: r.ProcessingTime,
		RecvTimestamp:  recv,
	}
}
