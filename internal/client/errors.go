package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrAuthExpired      = errors.New("authentication expired or unauthorized")
	ErrPermissionDenied = errors.New("permission denied")
	ErrServer           = errors.New("server error")
	ErrNetwork          = errors.New("network failure")
	ErrNoToken          = errors.New("no authentication token available")
)

// ErrorKind classifies a failed request.
type ErrorKind uint8

const (
	KindAuthExpired ErrorKind = iota + 1
	KindPermissionDenied
	KindServer
	KindNetwork
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthExpired:
		return "auth_expired"
	case KindPermissionDenied:
		return "permission_denied"
	case KindServer:
		return "server"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindAuthExpired:
		return ErrAuthExpired
	case KindPermissionDenied:
		return ErrPermissionDenied
	case KindServer:
		return ErrServer
	case KindNetwork:
		return ErrNetwork
	default:
		return nil
	}
}

// RequestError is returned for every failed exchange with the remote API.
type RequestError struct {
	Kind       ErrorKind
	Method     string
	Path       string
	StatusCode int
	Body       string
	Cause      error
}

func (e *RequestError) Error() string {
	var b strings.Builder
	if s := e.Kind.sentinel(); s != nil {
		b.WriteString(s.Error())
	} else {
		b.WriteString("request failed")
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if e.Method != "" || e.Path != "" {
		fmt.Fprintf(&b, " (%s %s)", e.Method, e.Path)
	}
	if body := strings.TrimSpace(e.Body); body != "" {
		b.WriteString(": ")
		b.WriteString(body)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *RequestError) Unwrap() error {
	return e.Cause
}

func (e *RequestError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// IsRetryable reports whether the failure is transient.
func (e *RequestError) IsRetryable() bool {
	return e.Kind == KindServer || e.Kind == KindNetwork
}

// IsRetryable reports whether err is a transient request failure.
func IsRetryable(err error) bool {
	var re *RequestError
	return errors.As(err, &re) && re.IsRetryable()
}

// KindOf returns the kind of a request failure, or 0 if err is not one.
func KindOf(err error) ErrorKind {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}
