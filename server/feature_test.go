package server

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatures_DefaultCreatedOnce(t *testing.T) {
	f := NewFeatures()
	assert.Equal(t, 0, f.Len())

	_, ok := LookupFeature[TransferTypeFeature](f)
	assert.False(t, ok, "lookup does not create")

	tt := GetFeature[TransferTypeFeature](f)
	require.NotNil(t, tt)
	assert.Equal(t, "I", tt.TransferType())
	tt.SetTransferType("A")

	assert.Same(t, tt, GetFeature[TransferTypeFeature](f))
	assert.Equal(t, "A", GetFeature[TransferTypeFeature](f).TransferType())
	assert.Equal(t, 1, f.Len())
}

// auditedIdentity counts identity changes.
type auditedIdentity struct {
	authorizationInformation
	sets int
}

func (a *auditedIdentity) SetUser(u *Principal) {
	a.sets++
	a.authorizationInformation.SetUser(u)
}

func (a *auditedIdentity) SetFTPUser(u *Principal) { a.SetUser(u) }

func TestFeatures_IdentityAliases(t *testing.T) {
	alice := &Principal{Name: "alice"}

	t.Run("new name first", func(t *testing.T) {
		f := NewFeatures()
		GetFeature[ConnectionUserFeature](f).SetUser(alice)

		legacy, ok := LookupFeature[AuthorizationInformationFeature](f)
		require.True(t, ok, "alias registered with the instance")
		assert.Same(t, alice, legacy.FTPUser())
		assert.Equal(t, 2, f.Len())
	})

	t.Run("deprecated name first", func(t *testing.T) {
		f := NewFeatures()
		GetFeature[AuthorizationInformationFeature](f).SetFTPUser(alice)

		assert.Same(t, alice, GetFeature[ConnectionUserFeature](f).User())
		assert.Same(t, alice, CurrentUser(f))

		GetFeature[ConnectionUserFeature](f).SetUser(nil)
		assert.Nil(t, GetFeature[AuthorizationInformationFeature](f).FTPUser())
	})

	t.Run("custom holder under both keys", func(t *testing.T) {
		f := NewFeatures()
		h := &auditedIdentity{}
		SetIdentityFeature(f, h)

		GetFeature[AuthorizationInformationFeature](f).SetFTPUser(alice)
		assert.Same(t, alice, CurrentUser(f))
		assert.Equal(t, 1, h.sets)
	})

	t.Run("one instance under both keys", func(t *testing.T) {
		f := NewFeatures()
		a := GetFeature[ConnectionUserFeature](f)
		b := GetFeature[AuthorizationInformationFeature](f)
		assert.Same(t, a.(*authorizationInformation), b.(*authorizationInformation))
	})
}

func TestFeatures_ConcurrentCreation(t *testing.T) {
	f := NewFeatures()

	const n = 64
	got := make([]ConnectionUserFeature, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if i%2 == 0 {
				got[i] = GetFeature[ConnectionUserFeature](f)
			} else {
				legacy := GetFeature[AuthorizationInformationFeature](f)
				got[i] = legacy.(ConnectionUserFeature)
			}
		}()
	}
	close(start)
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, got[0].(*authorizationInformation), got[i].(*authorizationInformation))
	}
}

type nameFeature interface{ Name() string }

type staticName string

func (s staticName) Name() string { return string(s) }

func TestFeatures_SetLookupDelete(t *testing.T) {
	f := NewFeatures()

	assert.Nil(t, GetFeature[nameFeature](f), "no factory gives the zero value")
	assert.Equal(t, 0, f.Len())

	SetFeature[nameFeature](f, staticName("x"))
	v, ok := LookupFeature[nameFeature](f)
	require.True(t, ok)
	assert.Equal(t, "x", v.Name())

	DeleteFeature[nameFeature](f)
	_, ok = LookupFeature[nameFeature](f)
	assert.False(t, ok)

	SetFeatureDefault(f, func(*Features) nameFeature { return staticName("default") })
	assert.Equal(t, "default", GetFeature[nameFeature](f).Name())

	// Other stores are not affected by a per-store default.
	assert.Nil(t, GetFeature[nameFeature](NewFeatures()))
}

type closeCounter struct {
	closed int
	err    error
}

func (c *closeCounter) Close() error {
	c.closed++
	return c.err
}

type closerA interface{ Close() error }
type closerB interface{ Close() error }

func TestFeatures_Close(t *testing.T) {
	f := NewFeatures()
	shared := &closeCounter{}
	failing := &closeCounter{err: errors.New("boom")}
	SetFeature[closerA](f, shared)
	SetFeature[closerB](f, shared)
	SetFeature[nameFeature](f, staticName("n"))
	SetFeature[*closeCounter](f, failing)

	err := f.Close()
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 1, shared.closed, "closed once despite two keys")
	assert.Equal(t, 1, failing.closed)
	assert.Equal(t, 0, f.Len())

	// A closed store creates nothing new.
	assert.Nil(t, GetFeature[ConnectionUserFeature](f))
	assert.Nil(t, CurrentUser(f))
}
