package meshnode

import "time"

// Message is an inbound message delivered by the runtime.
type Message struct {
	ID              string
	SourceHash      string
	DestinationHash string
	Title           string
	Content         string
	Hops            int
	ReceivedAt      time.Time
}
