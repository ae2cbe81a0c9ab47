package server

import "sync"

// Principal is an authenticated identity.
type Principal struct {
	// Name is the login name.
	Name string

	// Anonymous is set for anonymous/ftp logins.
	Anonymous bool

	// Groups lists the groups the user belongs to.
	Groups []string

	// Claims holds driver specific attributes (home directory, quota, ...).
	Claims map[string]string
}

// InGroup reports whether the principal belongs to group.
func (p *Principal) InGroup(group string) bool {
	if p == nil {
		return false
	}
	for _, g := range p.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// ConnectionUserFeature exposes the user authenticated on a connection.
// Login handlers set it, handlers making authorization decisions read it.
//
// The default holder is registered under this key and under
// AuthorizationInformationFeature. SetFeature replaces a single key only;
// use SetIdentityFeature to install a custom holder under both.
type ConnectionUserFeature interface {
	// User returns the authenticated user or nil.
	User() *Principal

	// SetUser replaces the authenticated user. nil logs the user out.
	SetUser(user *Principal)
}

// AuthorizationInformationFeature is the older name of the identity
// capability. It reads and writes the same state as ConnectionUserFeature.
//
// Deprecated: Use ConnectionUserFeature.
type AuthorizationInformationFeature interface {
	// FTPUser returns the authenticated user or nil.
	FTPUser() *Principal

	// SetFTPUser replaces the authenticated user.
	SetFTPUser(user *Principal)
}

// IdentityFeature is implemented by holders serving both identity
// capabilities.
type IdentityFeature interface {
	ConnectionUserFeature
	AuthorizationInformationFeature
}

// SetIdentityFeature registers v under both identity keys of f.
func SetIdentityFeature(f *Features, v IdentityFeature) {
	SetFeature[ConnectionUserFeature](f, v)
	SetFeature[AuthorizationInformationFeature](f, v)
}

// authorizationInformation backs both identity capabilities.
type authorizationInformation struct {
	mu   sync.RWMutex
	user *Principal
}

var (
	_ ConnectionUserFeature           = (*authorizationInformation)(nil)
	_ AuthorizationInformationFeature = (*authorizationInformation)(nil)
)

func (a *authorizationInformation) User() *Principal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.user
}

func (a *authorizationInformation) SetUser(user *Principal) {
	a.mu.Lock()
	a.user = user
	a.mu.Unlock()
}

func (a *authorizationInformation) FTPUser() *Principal { return a.User() }

func (a *authorizationInformation) SetFTPUser(user *Principal) { a.SetUser(user) }

// newAuthorizationInformation creates the identity holder and registers it
// under both capability keys so lookups by either name see one value.
func newAuthorizationInformation(f *Features) *authorizationInformation {
	a := &authorizationInformation{}
	SetIdentityFeature(f, a)
	return a
}

func init() {
	RegisterFeatureDefault(func(f *Features) ConnectionUserFeature {
		return newAuthorizationInformation(f)
	})
	RegisterFeatureDefault(func(f *Features) AuthorizationInformationFeature {
		return newAuthorizationInformation(f)
	})
}

// CurrentUser returns the user authenticated on the connection owning f, or
// nil. A closed store has no user.
func CurrentUser(f *Features) *Principal {
	u := GetFeature[ConnectionUserFeature](f)
	if u == nil {
		return nil
	}
	return u.User()
}
