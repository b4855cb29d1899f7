package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// Credentials are the username and password used for automatic
// re-authentication. Never log them.
type Credentials struct {
	Username string
	Password string
}

// CredentialSource supplies credentials on demand. It is consulted only when
// the client has to authenticate.
type CredentialSource interface {
	Credentials() (Credentials, error)
}

// CredentialFile reads a plaintext "username:password" file. The password is
// everything after the first colon.
type CredentialFile string

// Credentials reads and parses the file on every call.
func (f CredentialFile) Credentials() (Credentials, error) {
	path := string(f)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Credentials{}, fmt.Errorf("%w: credentials file %s not found", ErrAuthentication, path)
	}

	if err != nil {
		return Credentials{}, fmt.Errorf("%w: reading credentials %s: %v", ErrAuthentication, path, err)
	}

	user, pass, ok := strings.Cut(strings.TrimSpace(string(data)), ":")
	if !ok || user == "" || pass == "" || strings.ContainsAny(user, "\r\n") {
		return Credentials{}, fmt.Errorf("%w: credentials file %s must contain username:password", ErrAuthentication, path)
	}

	return Credentials{Username: user, Password: pass}, nil
}
