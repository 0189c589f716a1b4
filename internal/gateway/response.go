package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
)

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the body into v. Endpoints answer either with a
// {"data": ...} envelope or with the bare payload; both are accepted.
func (r *Response) Decode(v any) error {
	return DecodeData(r.Body, v)
}

func DecodeData(body []byte, v any) error {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '{' {
		var env map[string]json.RawMessage
		if err := json.Unmarshal(body, &env); err == nil {
			if data, ok := env["data"]; ok && len(data) > 0 && string(data) != "null" {
				return json.Unmarshal(data, v)
			}
		}
	}
	return json.Unmarshal(body, v)
}
