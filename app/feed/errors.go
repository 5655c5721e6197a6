package feed

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"
)

type Category string

const (
	CategoryTimeout       Category = "TIMEOUT"
	CategoryDNS           Category = "DNS_ERROR"
	CategorySSL           Category = "SSL_ERROR"
	CategoryNetwork       Category = "NETWORK_ERROR"
	CategoryAuth          Category = "AUTH_ERROR"
	CategoryHTTPStatus    Category = "HTTP_STATUS"
	CategoryEmptyResponse Category = "EMPTY_RESPONSE"
	CategoryParse         Category = "PARSE_ERROR"
	CategoryValidation    Category = "VALIDATION_ERROR"
	CategoryUnknown       Category = "UNKNOWN_ERROR"
)

type categoryFlags struct {
	transient          bool
	permanentlyInvalid bool
}

var categoryDefaults = map[Category]categoryFlags{
	CategoryTimeout:       {transient: true},
	CategoryDNS:           {permanentlyInvalid: true},
	CategorySSL:           {transient: true},
	CategoryNetwork:       {transient: true},
	CategoryAuth:          {},
	CategoryHTTPStatus:    {permanentlyInvalid: true},
	CategoryEmptyResponse: {permanentlyInvalid: true},
	CategoryParse:         {transient: true},
	CategoryValidation:    {permanentlyInvalid: true},
	CategoryUnknown:       {transient: true},
}

// Error is a categorized fetch or parse failure.
type Error struct {
	Category           Category
	Message            string
	StatusCode         int
	Transient          bool
	PermanentlyInvalid bool
	Err                error
}

// NewError builds an Error with the category's default transience and permanence.
func NewError(category Category, message string, cause error) *Error {
	flags, ok := categoryDefaults[category]
	if !ok {
		category = CategoryUnknown
		flags = categoryDefaults[CategoryUnknown]
	}
	return &Error{
		Category:           category,
		Message:            message,
		Transient:          flags.transient,
		PermanentlyInvalid: flags.permanentlyInvalid,
		Err:                cause,
	}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError extracts the categorized error from err's chain. Errors that were
// not categorized where they happened (storage, internal) become UNKNOWN_ERROR;
// they say nothing about the remote feed.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return NewError(CategoryUnknown, "internal failure", err)
}

// IsTransient reports whether err is a feed failure worth retrying later.
// Uncategorized errors are never transient feed failures.
func IsTransient(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Transient
}

// IsPermanentlyInvalid reports whether err should stop scheduled polling.
func IsPermanentlyInvalid(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.PermanentlyInvalid
}

// classifyHTTPStatus maps a non-2xx status code to a categorized error.
func classifyHTTPStatus(statusCode int, status string) *Error {
	message := fmt.Sprintf("HTTP error: %s", status)

	var fe *Error
	switch {
	case statusCode == 408 || statusCode == 504:
		fe = NewError(CategoryTimeout, message, nil)
	case statusCode >= 500:
		fe = NewError(CategoryNetwork, message, nil)
	case statusCode == 404:
		fe = NewError(CategoryHTTPStatus, message, nil)
	case statusCode == 401 || statusCode == 403:
		fe = NewError(CategoryAuth, message, nil)
	case statusCode >= 400 && statusCode <= 499:
		fe = NewError(CategoryHTTPStatus, message, nil)
	default:
		// 1xx and unfollowed 3xx; fail open
		fe = NewError(CategoryUnknown, message, nil)
	}
	fe.StatusCode = statusCode
	return fe
}

// classifyTransportError pattern-matches client errors by type first and
// message second. Unrecognized errors fail open as UNKNOWN_ERROR.
func classifyTransportError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewError(CategoryTimeout, "request timed out", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(CategoryTimeout, "request timed out", err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return NewError(CategoryDNS, "DNS lookup failed", err)
	}

	var certInvalid x509.CertificateInvalidError
	var unknownAuthority x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	if errors.As(err, &certInvalid) || errors.As(err, &unknownAuthority) || errors.As(err, &hostnameErr) {
		return NewError(CategorySSL, "TLS certificate error", err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return NewError(CategoryTimeout, "request timed out", err)
	case containsAny(msg, "no such host", "server misbehaving", "enotfound", "eai_again"):
		return NewError(CategoryDNS, "DNS lookup failed", err)
	case containsAny(msg, "x509", "tls", "certificate", "ssl"):
		return NewError(CategorySSL, "TLS handshake failed", err)
	case containsAny(msg, "connection refused", "connection reset", "broken pipe", "network is unreachable", "eof", "econnreset", "econnrefused"):
		return NewError(CategoryNetwork, "network error", err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return NewError(CategoryNetwork, "network error", err)
	}

	return NewError(CategoryUnknown, "unexpected fetch error", err)
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
