package llm

import (
	"strings"
)

// Kind is the closed set of ways a turn can fail.
type Kind int

const (
	KindMissingCredential Kind = iota + 1
	KindEmptyResponse
	KindTransport
	// KindMalformedDocument is a transport failure whose cause was recognised as
	// an empty or corrupt document attachment.
	KindMalformedDocument
)

func (k Kind) String() string {
	switch k {
	case KindMissingCredential:
		return "missing_credential"
	case KindEmptyResponse:
		return "empty_response"
	case KindTransport:
		return "transport_failure"
	case KindMalformedDocument:
		return "malformed_document"
	default:
		return "unknown"
	}
}

// Failure is returned by Respond for every failed turn. Error yields the text
// shown to the user; Unwrap yields the underlying cause, if any.
type Failure struct {
	Kind  Kind
	Cause error
}

func (f *Failure) Error() string {
	switch f.Kind {
	case KindMissingCredential:
		return "API Key is missing. Please provide a valid API Key."
	case KindEmptyResponse:
		return "Failed to generate response. No response text generated."
	case KindMalformedDocument:
		return "One of the uploaded PDFs appears to be empty or corrupted. Please check your files."
	default:
		if f.Cause == nil || f.Cause.Error() == "" {
			return "Failed to generate response. Check connection and files."
		}
		return "Failed to generate response. " + f.Cause.Error()
	}
}

func (f *Failure) Unwrap() error { return f.Cause }

// malformedDocumentSignature is matched against upstream error text. The
// wording is not part of any contract with the remote service, so a miss only
// costs the friendlier message; the failure is still reported.
const malformedDocumentSignature = "The document has no pages"

// classifyTransport turns a failed call into a Failure.
func classifyTransport(cause error) *Failure {
	if cause != nil && strings.Contains(cause.Error(), malformedDocumentSignature) {
		return &Failure{Kind: KindMalformedDocument, Cause: cause}
	}
	return &Failure{Kind: KindTransport, Cause: cause}
}
