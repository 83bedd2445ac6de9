package platform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// GenericMessage is shown when the platform gives no detail text.
const GenericMessage = "Something went wrong. Please try again later."

// envelope is the platform response wrapper: {result, error, errorData}.
type envelope struct {
	Result    json.RawMessage `json:"result"`
	Error     json.RawMessage `json:"error"`
	ErrorData json.RawMessage `json:"errorData"`
}

// APIError is a failed platform call with the server supplied detail.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Data       json.RawMessage
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("platform: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("platform: %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) HasCode(codes ...string) bool {
	for _, c := range codes {
		if strings.EqualFold(e.Code, c) {
			return true
		}
	}
	return false
}

func isEmptyJSON(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null")) || bytes.Equal(t, []byte("false")) || bytes.Equal(t, []byte(`""`))
}

// failure extracts the error carried by the envelope, nil when the call succeeded.
func (env *envelope) failure(statusCode int) *APIError {
	ok := statusCode >= 200 && statusCode < 300
	if ok && isEmptyJSON(env.Error) {
		return nil
	}

	apiErr := &APIError{StatusCode: statusCode, Data: env.ErrorData}
	code, msg := parseErrorField(env.Error)
	apiErr.Code = code
	if detail := parseDetail(env.ErrorData); detail != "" {
		msg = detail
	}
	if msg == "" {
		msg = GenericMessage
	}
	apiErr.Message = msg
	return apiErr
}

// parseErrorField accepts either a plain code string or an object with code/message.
func parseErrorField(raw json.RawMessage) (code, message string) {
	if isEmptyJSON(raw) {
		return "", ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, ""
	}
	var obj struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Code, obj.Message
	}
	return "", ""
}

func parseDetail(raw json.RawMessage) string {
	if isEmptyJSON(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message     string `json:"message"`
		Detail      string `json:"detail"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	for _, v := range []string{obj.Message, obj.Detail, obj.Description} {
		if v != "" {
			return v
		}
	}
	return ""
}
