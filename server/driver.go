package server

import (
	"context"
	"errors"

	"github.com/spf13/afero"
)

// ErrLoginIncorrect is returned by drivers for unknown users and wrong
// passwords.
var ErrLoginIncorrect = errors.New("ftp: login incorrect")

// Driver authenticates users and provides the file system they see.
//
// Implementations should:
//   - Validate user credentials (user, pass)
//   - Return a file system that isolates the user (e.g. afero.NewBasePathFs)
//   - Return an error wrapping ErrLoginIncorrect for bad credentials
//
// Example implementation:
//
//	type MyDriver struct{ fs afero.Fs }
//
//	func (d *MyDriver) Authenticate(ctx context.Context, user, pass string) (*server.Principal, afero.Fs, error) {
//	    if !validateCredentials(user, pass) {
//	        return nil, nil, server.ErrLoginIncorrect
//	    }
//	    return &server.Principal{Name: user}, d.fs, nil
//	}
type Driver interface {
	// Authenticate validates the user and password. The returned file system
	// is rooted at the user's home; paths are slash separated.
	//
	// ctx is the command's context and is cancelled on ABOR or when the
	// connection closes.
	Authenticate(ctx context.Context, user, pass string) (*Principal, afero.Fs, error)
}
