package domain

// EventMessage pairs a decoded event with the acknowledgement callbacks of
// its bus delivery. The worker pool settles the message after the engine has
// processed it.
type EventMessage struct {
	Event Event
	Ack   func() error
	Nack  func(requeue bool) error
}
