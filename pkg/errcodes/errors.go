package errcodes

import "fmt"

type Error struct {
	Message string
	Code    string
}

func (err *Error) Error() string {
	return err.Message
}

func (err *Error) As(target interface{}) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	te.Message = err.Message
	te.Code = err.Code
	return true
}

func (err *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return te.Message == err.Message && te.Code == err.Code
}

// CredentialsMissing returns the fatal error used when the username,
// password, client ID, or client secret is absent from the configuration.
// It is never retried.
func CredentialsMissing() error {
	return &Error{
		"Login details missing from the configuration.",
		"credentials_missing",
	}
}

// LoginFailed returns the error used when every login attempt, including
// the refresh-token fallback, has failed.
func LoginFailed() error {
	return &Error{
		"Couldn't log in, check the logs for details.",
		"login_failed",
	}
}

// RequestFailed returns the error raised when a request exhausts its retry
// budget. The description identifies the request for diagnostics.
func RequestFailed(description string) error {
	return &Error{
		fmt.Sprintf("Request failed after all retries: %s", description),
		"request_failed",
	}
}

// SessionNotCleared returns the error used when a pre-existing upload
// session could not be deleted before opening a new one.
func SessionNotCleared() error {
	return &Error{
		"Couldn't delete the existing upload session.",
		"session_not_cleared",
	}
}

// NamingFormatInvalid returns the error used when a file or folder name
// doesn't match the chapter naming grammar.
func NamingFormatInvalid(name string) error {
	return &Error{
		fmt.Sprintf("%s isn't in the correct naming format.", name),
		"naming_format_invalid",
	}
}

// SeriesNotResolved returns the error used when a series name has no entry
// in the name-to-ID map.
func SeriesNotResolved(name string) error {
	return &Error{
		fmt.Sprintf("No series ID found for %s.", name),
		"series_not_resolved",
	}
}

// NoValidPages returns the error used when an archive or folder contains
// no uploadable page images.
func NoValidPages(name string) error {
	return &Error{
		fmt.Sprintf("No valid page images found in %s.", name),
		"no_valid_pages",
	}
}

// PagesNotUploaded returns the error used when a page batch still has
// failed pages after the retry budget is spent.
func PagesNotUploaded(count int) error {
	return &Error{
		fmt.Sprintf("%d pages failed to upload after all retries.", count),
		"pages_not_uploaded",
	}
}

// CommitFailed returns the error used when the chapter draft could not be
// committed and the upload session was abandoned.
func CommitFailed(name string) error {
	return &Error{
		fmt.Sprintf("Couldn't commit the chapter draft for %s.", name),
		"commit_failed",
	}
}
