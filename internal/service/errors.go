package service

import "fmt"

// OAuthError standardizes OAuth compliant errors.
type OAuthError struct {
	Code        string
	Description string
	Status      int
}

func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func newOAuthError(code, desc string, status int) *OAuthError {
	return &OAuthError{Code: code, Description: desc, Status: status}
}

// errServiceDisabled is returned by every protocol entry point while the
// integration is switched off.
func errServiceDisabled() *OAuthError {
	return newOAuthError("server_error", "Assistant integration is disabled.", 500)
}
