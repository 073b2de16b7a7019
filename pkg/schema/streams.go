package schema

// StreamType tags a hop with the kind of data stream it carries.
type StreamType string

const (
	StreamMain   StreamType = "MAIN"
	StreamError  StreamType = "ERROR"
	StreamInfo   StreamType = "INFO"
	StreamTarget StreamType = "TARGET"
	StreamOutput StreamType = "OUTPUT"
)

// Valid reports whether s is one of the known stream types.
func (s StreamType) Valid() bool {
	switch s {
	case StreamMain, StreamError, StreamInfo, StreamTarget, StreamOutput:
		return true
	}
	return false
}
