package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// ErrorKind classifies why a file was not stored.
type ErrorKind string

const (
	KindNoFileProvided     ErrorKind = "NoFileProvided"
	KindValidationFailed   ErrorKind = "ValidationFailed"
	KindStorageWriteFailed ErrorKind = "StorageWriteFailed"
)

// State is the lifecycle position of a single file.
type State string

const (
	StateReceived   State = "received"
	StateSanitizing State = "sanitizing"
	StateStoring    State = "storing"
	StateStored     State = "stored"
	StateFailed     State = "failed"
)

var (
	ErrNoFile          = errors.New("no file provided")
	ErrFileTooLarge    = errors.New("file exceeds the maximum allowed size")
	ErrUnsupportedType = errors.New("content type is not an allowed image format")
	ErrContentMismatch = errors.New("file content is not an allowed image format")
)

// IncomingFile is a single payload submitted for ingestion. Open is called at
// most once, from the goroutine that stores the file.
type IncomingFile struct {
	Name        string
	ContentType string
	// Size is the declared payload length, or -1 when unknown.
	Size int64
	Open func() (io.ReadCloser, error)
}

// FileFromBytes builds an IncomingFile backed by an in-memory payload.
func FileFromBytes(name string, contentType string, data []byte) IncomingFile {
	return IncomingFile{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// StoredObject describes a successfully persisted file.
type StoredObject struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`

	// Location is what the backend returned, before resolution against the
	// request origin. Local storage returns a root-relative path.
	Location string `json:"-"`
}

// Failure records why a file was not stored. It implements error and
// unwraps to the underlying cause.
type Failure struct {
	Key     string    `json:"key,omitempty"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`

	cause error
}

func newFailure(kind ErrorKind, key string, cause error) *Failure {
	return &Failure{Key: key, Kind: kind, Message: cause.Error(), cause: cause}
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.cause
}

// Result is the outcome for one submitted file. Exactly one of Object and
// Failure is set.
type Result struct {
	Index   int           `json:"index"`
	Name    string        `json:"filename"`
	State   State         `json:"state"`
	Object  *StoredObject `json:"object,omitempty"`
	Failure *Failure      `json:"failure,omitempty"`
}

func (r Result) Stored() bool {
	return r.State == StateStored && r.Object != nil
}

// URLs returns the URLs of stored results in submission order.
func URLs(results []Result) []string {
	urls := make([]string, 0, len(results))
	for _, r := range results {
		if r.Stored() {
			urls = append(urls, r.Object.URL)
		}
	}
	return urls
}

// Failures returns the failed results in submission order.
func Failures(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Stored() {
			failed = append(failed, r)
		}
	}
	return failed
}

// Policy decides how a batch with some failed files is reported.
type Policy string

const (
	// PolicyBestEffort reports every stored URL alongside the failures.
	PolicyBestEffort Policy = "best-effort"
	// PolicyFailFast treats any failure as a failure of the whole batch.
	PolicyFailFast Policy = "fail-fast"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyBestEffort:
		return PolicyBestEffort, nil
	case PolicyFailFast:
		return PolicyFailFast, nil
	default:
		return "", fmt.Errorf("unknown batch policy %q", s)
	}
}
