/*
Package authmgr manages the OAuth token lifecycle for a client of a
multi-tenant API.

# States

A Manager holds exactly one of four token states:

  - CustomerToken: a logged in customer, refreshable
  - AnonymousToken: an anonymous session with its own refresh token
  - PlainToken: a client-credentials token without a refresh token
  - NoToken: nothing usable, or the configuration is invalid

# Usage

	mgr, err := authmgr.New(settings, store, authsdk.NewSDKClient())
	if err != nil {
		return err
	}
	defer mgr.Close()

	token, err := mgr.EnsureToken(ctx)

	// Or let an http.Client authorize each request with the current token.
	client := mgr.Client(ctx, nil)

EnsureToken answers from the cached record while it is valid. When it is
not, the manager refreshes if it holds a refresh token and otherwise issues
an anonymous session grant or a plain client-credentials grant, depending on
the session mode.

# Failures

Errors are *AuthError values of three kinds. ConfigurationInvalid is returned
before any network call. AuthRejected means the server refused the grant with
a structured OAuth2 error; the stored record has been cleared. NetworkFailure
covers everything else (transport errors, timeouts, malformed bodies); the
stored record is preserved and the next call starts a fresh acquisition.

# Concurrency

All operations are serialized on one worker goroutine in submission order.
Concurrent EnsureToken calls cause at most one exchange; the ones queued
behind it are answered from the refreshed cache.
*/
package authmgr
