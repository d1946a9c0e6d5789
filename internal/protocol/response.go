package protocol

import "time"

// Status is the outcome of a request.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Response is the JSON envelope sent for every request. A successful
// SYNTHESIZE response is followed by exactly one binary frame.
type Response struct {
	Status    Status `json:"status"`
	RequestID ID     `json:"request_id"`
	Message   string `json:"message"`
	Code      int    `json:"code,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// Success builds a success envelope.
func Success(id ID, message string, data any) Response {
	return Response{Status: StatusSuccess, RequestID: id, Message: message, Data: data}
}

// Failure builds an error envelope.
func Failure(id ID, code int, message string) Response {
	return Response{Status: StatusError, RequestID: id, Message: message, Code: code}
}

// OK reports whether the response is a success.
func (r Response) OK() bool { return r.Status == StatusSuccess }

// SynthesisData is the payload of a successful SYNTHESIZE.
type SynthesisData struct {
	AudioFormat string  `json:"audio_format"`
	Engine      string  `json:"engine"`
	Voice       string  `json:"voice"`
	Language    string  `json:"language"`
	Bytes       int     `json:"bytes"`
	Cached      bool    `json:"cached"`
	Playing     bool    `json:"playing"`
	Speed       float64 `json:"speed,omitempty"`
}

// VoicesData is the payload of GET_VOICES.
type VoicesData struct {
	Engine    string      `json:"engine"`
	Available bool        `json:"available"`
	Languages []string    `json:"languages"`
	Voices    []VoiceInfo `json:"voices"`

	// RefreshedAt is when the local voice list was last fetched.
	RefreshedAt *time.Time `json:"refreshed_at,omitempty"`
}

// VoiceInfo is one voice on the wire.
type VoiceInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
}
