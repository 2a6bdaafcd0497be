package domain

// ChannelStat aggregates message outcomes for one channel over a window.
// Failed counts terminal failures (expired and poisoned); InFlight counts
// messages not yet resolved; Retried counts messages that needed more than
// one attempt.
type ChannelStat struct {
	Channel  Channel `json:"channel"`
	Sent     int     `json:"sent"`
	Failed   int     `json:"failed"`
	InFlight int     `json:"in_flight"`
	Retried  int     `json:"retried"`
}

// LatencyStats summarizes the delivery-attempt latency distribution.
type LatencyStats struct {
	Count    int     `json:"count"`
	MeanMs   float64 `json:"mean_ms"`
	MedianMs float64 `json:"median_ms"`
	P95Ms    float64 `json:"p95_ms"`
}
