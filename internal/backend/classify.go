package backend

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	// StepUpWarningCode marks an insert that needs a 3-D Secure challenge before it can complete.
	StepUpWarningCode = 4294
	// RemoveAdmissionWarningCode is raised when a seat removal leaves the order otherwise intact.
	RemoveAdmissionWarningCode = 5414
)

// FinalizeAcceptedWarnings are soft warnings raised by order insert that must not abort it.
var FinalizeAcceptedWarnings = []int{5008, 4224, 5388}

var (
	stepUpMarker   = strconv.Itoa(StepUpWarningCode)
	softErrorMatch = regexp.MustCompile(`(?i)error`)
)

// IsStepUpRequired reports whether a backend response body asks for a payer challenge. Parsed
// bodies are classified structurally: an exception number, or any number, key or string leaf
// carrying the code. Unstructured text falls back to a substring match.
func IsStepUpRequired(body any) bool {
	switch v := body.(type) {
	case nil:
		return false
	case string:
		return strings.Contains(v, stepUpMarker)
	case map[string]any:
		if exceptionNumber(v) == StepUpWarningCode {
			return true
		}
	}
	return containsCode(body, 0)
}

// ExceptionNumber extracts body.exception.number when present.
func ExceptionNumber(body any) int {
	obj, ok := body.(map[string]any)
	if !ok {
		return 0
	}
	return exceptionNumber(obj)
}

// HasSoftError reports a 200 response that still carries an error payload: an errorCode member or
// a message mentioning an error.
func HasSoftError(body any) bool {
	obj, ok := body.(map[string]any)
	if !ok {
		return false
	}
	if code, present := obj["errorCode"]; present && truthy(code) {
		return true
	}
	message, _ := obj["message"].(string)
	return softErrorMatch.MatchString(message)
}

func exceptionNumber(obj map[string]any) int {
	exception, ok := obj["exception"].(map[string]any)
	if !ok {
		return 0
	}
	switch n := exception["number"].(type) {
	case float64:
		return int(n)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0
		}
		return parsed
	}
	return 0
}

const maxClassifyDepth = 32

func containsCode(value any, depth int) bool {
	if depth > maxClassifyDepth {
		return false
	}
	switch v := value.(type) {
	case string:
		return strings.Contains(v, stepUpMarker)
	case float64:
		return strings.Contains(strconv.FormatFloat(v, 'f', -1, 64), stepUpMarker)
	case map[string]any:
		for key, child := range v {
			if strings.Contains(key, stepUpMarker) || containsCode(child, depth+1) {
				return true
			}
		}
	case []any:
		for _, child := range v {
			if containsCode(child, depth+1) {
				return true
			}
		}
	}
	return false
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	default:
		return true
	}
}
