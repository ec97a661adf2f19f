package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rsaJWK(t *testing.T, kid string, pub *rsa.PublicKey) JSONWebKey {
	t.Helper()

	return JSONWebKey{
		Kty: "RSA",
		Kid: kid,
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

func jwksServer(t *testing.T, set *JSONWebKeySet, fetches *atomic.Int64) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fetches != nil {
			fetches.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestJWKSResolverResolve(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	set := &JSONWebKeySet{Keys: []JSONWebKey{rsaJWK(t, "key-1", &priv.PublicKey)}}
	srv := jwksServer(t, set, nil)

	r := NewJWKSResolver(srv.URL, time.Minute)
	defer r.Stop()

	key, err := r.Resolve(context.Background(), "key-1")
	require.NoError(t, err)

	rsaPub, ok := key.(*rsa.PublicKey)
	require.True(t, ok)
	assert.Zero(t, rsaPub.N.Cmp(priv.PublicKey.N))

	// Empty kid selects the only key.
	_, err = r.Resolve(context.Background(), "")
	assert.NoError(t, err)
}

func TestJWKSResolverKeyNotFound(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	set := &JSONWebKeySet{Keys: []JSONWebKey{rsaJWK(t, "key-1", &priv.PublicKey)}}
	srv := jwksServer(t, set, nil)

	r := NewJWKSResolver(srv.URL, time.Minute)
	defer r.Stop()

	_, err = r.Resolve(context.Background(), "other")
	require.ErrorIs(t, err, ErrKeyNotFound)

	var keyErr *KeyError
	require.ErrorAs(t, err, &keyErr)
	assert.Equal(t, "other", keyErr.Kid)
}

func TestJWKSResolverCachesWithinTTL(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	var fetches atomic.Int64
	set := &JSONWebKeySet{Keys: []JSONWebKey{rsaJWK(t, "key-1", &priv.PublicKey)}}
	srv := jwksServer(t, set, &fetches)

	r := NewJWKSResolver(srv.URL, time.Minute)
	defer r.Stop()

	for i := 0; i < 5; i++ {
		_, err := r.Resolve(context.Background(), "key-1")
		require.NoError(t, err)
	}

	assert.Equal(t, int64(1), fetches.Load())
}

func TestJWKSResolverRotationRefresh(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	set := &JSONWebKeySet{Keys: []JSONWebKey{rsaJWK(t, "key-1", &priv.PublicKey)}}
	srv := jwksServer(t, set, nil)

	r := NewJWKSResolver(srv.URL, time.Hour)
	defer r.Stop()

	_, err = r.Resolve(context.Background(), "key-1")
	require.NoError(t, err)

	// Rotate the set; an unknown kid forces one refresh before failing.
	set.Keys = []JSONWebKey{rsaJWK(t, "key-2", &priv.PublicKey)}

	_, err = r.Resolve(context.Background(), "key-2")
	assert.NoError(t, err)
}

func TestJWKSResolverSingleFlight(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	var fetches atomic.Int64
	set := &JSONWebKeySet{Keys: []JSONWebKey{rsaJWK(t, "key-1", &priv.PublicKey)}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches.Add(1)
		time.Sleep(100 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(srv.Close)

	r := NewJWKSResolver(srv.URL, time.Minute)
	defer r.Stop()

	const callers = 8
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Resolve(context.Background(), "key-1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), fetches.Load())
}

func TestJWKSResolverRefreshSurvivesCancelledCaller(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	var fetches atomic.Int64
	release := make(chan struct{})
	set := &JSONWebKeySet{Keys: []JSONWebKey{rsaJWK(t, "key-1", &priv.PublicKey)}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches.Add(1)
		<-release
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(srv.Close)

	r := NewJWKSResolver(srv.URL, time.Minute)
	defer r.Stop()

	type result struct {
		key any
		err error
	}

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan result, 1)
	go func() {
		key, err := r.Resolve(ctx, "key-1")
		first <- result{key, err}
	}()

	// Hang up the triggering caller while the shared fetch is in flight.
	require.Eventually(t, func() bool { return fetches.Load() == 1 },
		time.Second, 5*time.Millisecond)
	cancel()

	second := make(chan result, 1)
	go func() {
		key, err := r.Resolve(context.Background(), "key-1")
		second <- result{key, err}
	}()

	close(release)

	// The fetch completes and commits; both the cancelled caller and
	// the healthy waiter resolve from the single upstream hit.
	for _, ch := range []chan result{first, second} {
		res := <-ch
		require.NoError(t, res.err)
		assert.NotNil(t, res.key)
	}
	assert.Equal(t, int64(1), fetches.Load())
	assert.False(t, r.LastFetch().IsZero())
}

func TestJWKSResolverRotationRefreshCooldown(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	var fetches atomic.Int64
	set := &JSONWebKeySet{Keys: []JSONWebKey{rsaJWK(t, "key-1", &priv.PublicKey)}}
	srv := jwksServer(t, set, &fetches)

	r := NewJWKSResolver(srv.URL, time.Hour,
		WithResolverRotationGrace(50*time.Millisecond))
	defer r.Stop()

	_, err = r.Resolve(context.Background(), "key-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), fetches.Load())

	// The first unknown kid forces a refresh; repeats inside the grace
	// window fail fast without touching the source.
	_, err = r.Resolve(context.Background(), "bogus-1")
	require.ErrorIs(t, err, ErrKeyNotFound)
	assert.Equal(t, int64(2), fetches.Load())

	_, err = r.Resolve(context.Background(), "bogus-2")
	require.ErrorIs(t, err, ErrKeyNotFound)
	assert.Equal(t, int64(2), fetches.Load())

	time.Sleep(60 * time.Millisecond)

	_, err = r.Resolve(context.Background(), "bogus-3")
	require.ErrorIs(t, err, ErrKeyNotFound)
	assert.Equal(t, int64(3), fetches.Load())
}

func TestJWKSResolverStaleDegradation(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	set := &JSONWebKeySet{Keys: []JSONWebKey{rsaJWK(t, "key-1", &priv.PublicKey)}}
	srv := jwksServer(t, set, nil)

	r := NewJWKSResolver(srv.URL, 50*time.Millisecond,
		WithResolverRetries(1),
		WithResolverFetchTimeout(200*time.Millisecond))
	defer r.Stop()

	_, err = r.Resolve(context.Background(), "key-1")
	require.NoError(t, err)

	// Source goes down; keys are stale but inside the grace window.
	srv.Close()
	time.Sleep(60 * time.Millisecond)

	_, err = r.Resolve(context.Background(), "key-1")
	assert.NoError(t, err)

	// Past twice the window the stale set is no longer served.
	time.Sleep(60 * time.Millisecond)

	_, err = r.Resolve(context.Background(), "key-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestJWKSResolverSourceUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	r := NewJWKSResolver(srv.URL, time.Minute, WithResolverRetries(1))
	defer r.Stop()

	_, err := r.Resolve(context.Background(), "key-1")
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestStaticResolver(t *testing.T) {
	t.Parallel()

	secret := []byte("shared-secret")
	r := NewStaticResolver(map[string]any{"hmac-1": secret})

	key, err := r.Resolve(context.Background(), "hmac-1")
	require.NoError(t, err)
	assert.Equal(t, secret, key)

	key, err = r.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, secret, key)

	_, err = r.Resolve(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestVerificationKeyEC(t *testing.T) {
	t.Parallel()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	jwk := JSONWebKey{
		Kty: "EC",
		Crv: "P-256",
		X:   base64.RawURLEncoding.EncodeToString(priv.PublicKey.X.Bytes()),
		Y:   base64.RawURLEncoding.EncodeToString(priv.PublicKey.Y.Bytes()),
	}

	key, err := jwk.VerificationKey()
	require.NoError(t, err)

	ecPub, ok := key.(*ecdsa.PublicKey)
	require.True(t, ok)
	assert.Zero(t, ecPub.X.Cmp(priv.PublicKey.X))
}

func TestVerificationKeyEd25519(t *testing.T) {
	t.Parallel()

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	jwk := JSONWebKey{
		Kty: "OKP",
		Crv: "Ed25519",
		X:   base64.RawURLEncoding.EncodeToString(pub),
	}

	key, err := jwk.VerificationKey()
	require.NoError(t, err)
	assert.Equal(t, pub, key.(ed25519.PublicKey))
}

func TestVerificationKeyUnsupported(t *testing.T) {
	t.Parallel()

	jwk := JSONWebKey{Kty: "XYZ"}
	_, err := jwk.VerificationKey()
	assert.ErrorIs(t, err, ErrUnsupportedKeyType)

	jwk = JSONWebKey{Kty: "EC", Crv: "P-111"}
	_, err = jwk.VerificationKey()
	assert.ErrorIs(t, err, ErrUnsupportedKeyType)
}
