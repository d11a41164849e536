package chatclient

// Status is the connection state of a session. The machine is reusable
// across requests:
//
//	disconnected -> connecting   (request dispatched)
//	connecting   -> connected    (stream opened)
//	connected    -> disconnected (done frame)
//	connecting | connected -> error (error frame, transport failure,
//	                                 malformed response)
//	error -> connecting          (next SendMessage or Retry)
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)
