// Package settings reads the host application's installation state and
// key/value settings.
package settings

import "context"

// Well-known keys.
const (
	KeyDBVersion = "db-version"
)

// Store is the read side of the application's settings.
type Store interface {
	IsInstalled(ctx context.Context) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
}

// Static is a fixed, in-memory Store.
type Static struct {
	Installed bool
	Values    map[string]string
}

func (s Static) IsInstalled(context.Context) (bool, error) {
	return s.Installed, nil
}

func (s Static) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := s.Values[key]
	return v, ok, nil
}
