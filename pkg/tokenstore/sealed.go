package tokenstore

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aussiebroadwan/tokenkeeper/pkg/authmgr"
	"github.com/aussiebroadwan/tokenkeeper/pkg/cryptox"
)

// Sealed encrypts the access and refresh tokens of every record before
// handing it to the wrapped store. Expiry and state are kept in clear so
// the backing store stays inspectable.
//
// Each value is bound to its project key and field name, so a sealed token
// copied into another row or field fails to open.
type Sealed struct {
	next   authmgr.Store
	sealer *cryptox.Sealer
}

var _ authmgr.Store = (*Sealed)(nil)

func NewSealed(next authmgr.Store, sealer *cryptox.Sealer) *Sealed {
	return &Sealed{next: next, sealer: sealer}
}

func (s *Sealed) Load(ctx context.Context, projectKey string) (authmgr.Record, error) {
	rec, err := s.next.Load(ctx, projectKey)
	if err != nil {
		return authmgr.Record{}, err
	}

	if rec.AccessToken, err = s.open(projectKey, "access_token", rec.AccessToken); err != nil {
		return authmgr.Record{}, err
	}
	if rec.RefreshToken, err = s.open(projectKey, "refresh_token", rec.RefreshToken); err != nil {
		return authmgr.Record{}, err
	}
	return rec, nil
}

func (s *Sealed) Save(ctx context.Context, projectKey string, rec authmgr.Record) error {
	var err error
	if rec.AccessToken, err = s.seal(projectKey, "access_token", rec.AccessToken); err != nil {
		return err
	}
	if rec.RefreshToken, err = s.seal(projectKey, "refresh_token", rec.RefreshToken); err != nil {
		return err
	}
	return s.next.Save(ctx, projectKey, rec)
}

func (s *Sealed) Clear(ctx context.Context, projectKey string) error {
	return s.next.Clear(ctx, projectKey)
}

func (s *Sealed) seal(projectKey, field, value string) (string, error) {
	if value == "" {
		return "", nil
	}
	sealed, err := s.sealer.Seal([]byte(value), aad(projectKey, field))
	if err != nil {
		return "", fmt.Errorf("seal %s: %w", field, err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *Sealed) open(projectKey, field, value string) (string, error) {
	if value == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", fmt.Errorf("decode sealed %s: %w", field, err)
	}
	plain, err := s.sealer.Open(raw, aad(projectKey, field))
	if err != nil {
		return "", fmt.Errorf("open sealed %s: %w", field, err)
	}
	return string(plain), nil
}

func aad(projectKey, field string) []byte {
	return []byte(projectKey + "\x00" + field)
}
