package tokenstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/tokenkeeper/pkg/authmgr"
	"github.com/aussiebroadwan/tokenkeeper/pkg/cryptox"
	"github.com/aussiebroadwan/tokenkeeper/pkg/tokenstore"
)

func sampleRecord() authmgr.Record {
	return authmgr.Record{
		AccessToken:  "access-123",
		RefreshToken: "refresh-456",
		ValidUntil:   time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC),
		State:        authmgr.CustomerToken,
	}
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := tokenstore.NewMemory()

	rec, err := m.Load(ctx, "demo")
	require.NoError(t, err)
	require.Equal(t, authmgr.Record{}, rec, "missing project loads as NoToken")

	require.NoError(t, m.Save(ctx, "demo", sampleRecord()))
	require.NoError(t, m.Save(ctx, "other", authmgr.Record{AccessToken: "x", State: authmgr.PlainToken}))

	rec, err = m.Load(ctx, "demo")
	require.NoError(t, err)
	require.Equal(t, sampleRecord(), rec)
	require.ElementsMatch(t, []string{"demo", "other"}, m.Projects())

	require.NoError(t, m.Clear(ctx, "demo"))
	rec, err = m.Load(ctx, "demo")
	require.NoError(t, err)
	require.Equal(t, authmgr.NoToken, rec.State)

	// Clearing an absent project is not an error.
	require.NoError(t, m.Clear(ctx, "missing"))
	require.Equal(t, []string{"other"}, m.Projects())
}

func newSealer(t *testing.T, key string) *cryptox.Sealer {
	t.Helper()
	s, err := cryptox.NewSealer([]byte(key))
	require.NoError(t, err)
	return s
}

func TestSealed_RoundTrip(t *testing.T) {
	ctx := context.Background()
	backing := tokenstore.NewMemory()
	sealed := tokenstore.NewSealed(backing, newSealer(t, "master"))

	require.NoError(t, sealed.Save(ctx, "demo", sampleRecord()))

	raw, err := backing.Load(ctx, "demo")
	require.NoError(t, err)
	require.NotEqual(t, "access-123", raw.AccessToken)
	require.NotContains(t, raw.RefreshToken, "refresh-456")
	require.Equal(t, sampleRecord().ValidUntil, raw.ValidUntil, "expiry is stored in clear")
	require.Equal(t, authmgr.CustomerToken, raw.State)

	rec, err := sealed.Load(ctx, "demo")
	require.NoError(t, err)
	require.Equal(t, sampleRecord(), rec)

	require.NoError(t, sealed.Clear(ctx, "demo"))
	rec, err = sealed.Load(ctx, "demo")
	require.NoError(t, err)
	require.Equal(t, authmgr.Record{}, rec)
}

func TestSealed_EmptyFieldsStayEmpty(t *testing.T) {
	ctx := context.Background()
	backing := tokenstore.NewMemory()
	sealed := tokenstore.NewSealed(backing, newSealer(t, "master"))

	plain := authmgr.Record{AccessToken: "a", ValidUntil: time.Unix(100, 0), State: authmgr.PlainToken}
	require.NoError(t, sealed.Save(ctx, "demo", plain))

	raw, err := backing.Load(ctx, "demo")
	require.NoError(t, err)
	require.Empty(t, raw.RefreshToken)

	rec, err := sealed.Load(ctx, "demo")
	require.NoError(t, err)
	require.Equal(t, plain, rec)
}

func TestSealed_Tampering(t *testing.T) {
	ctx := context.Background()
	backing := tokenstore.NewMemory()
	sealed := tokenstore.NewSealed(backing, newSealer(t, "master"))

	require.NoError(t, sealed.Save(ctx, "demo", sampleRecord()))
	raw, err := backing.Load(ctx, "demo")
	require.NoError(t, err)

	t.Run("copied to another project", func(t *testing.T) {
		require.NoError(t, backing.Save(ctx, "other", raw))
		_, err := sealed.Load(ctx, "other")
		require.Error(t, err)
	})

	t.Run("fields swapped", func(t *testing.T) {
		swapped := raw
		swapped.AccessToken, swapped.RefreshToken = raw.RefreshToken, raw.AccessToken
		require.NoError(t, backing.Save(ctx, "swapped", swapped))
		_, err := sealed.Load(ctx, "swapped")
		require.Error(t, err)
	})

	t.Run("different key", func(t *testing.T) {
		other := tokenstore.NewSealed(backing, newSealer(t, "another"))
		_, err := other.Load(ctx, "demo")
		require.Error(t, err)
	})

	t.Run("not base64", func(t *testing.T) {
		require.NoError(t, backing.Save(ctx, "garbled", authmgr.Record{AccessToken: "%%%", State: authmgr.PlainToken}))
		_, err := sealed.Load(ctx, "garbled")
		require.ErrorContains(t, err, "decode sealed")
	})
}
