package proto

// Envelope is the wire form of a dispatched envelope
type Envelope struct {
	Id            string
	Type          string
	Payload       []byte
	CorrelationId string
	Sender        string
	Timestamp     string
	Metadata      map[string]string
}

// Failure is the wire form of one failed handler invocation
type Failure struct {
	Agent string
	Cause string
}

// DispatchReply is the wire form of a dispatch result
type DispatchReply struct {
	Status    string
	Agents    []string
	Responses map[string]*Envelope
	Failures  []*Failure
	Error     string
}
