package upgrade

import (
	"context"
	"upgrader/internal/apperrors"
	"upgrader/internal/settings"
)

// Status describes the deployed revision against available releases and the
// database schema against the code.
type Status struct {
	CurrentRef       string   `json:"currentRef"`
	Latest           string   `json:"latest,omitempty"`
	Versions         []string `json:"versions"`
	UpdateAvailable  bool     `json:"updateAvailable"`
	DBVersion        string   `json:"dbVersion,omitempty"`
	AppDBVersion     string   `json:"appDbVersion,omitempty"`
	DBUpdateRequired bool     `json:"dbUpdateRequired"`
	InProgress       bool     `json:"inProgress"`
}

// Status reports what is deployed and what could be.
func (s *Service) Status(ctx context.Context, limit int) (*Status, error) {
	st := &Status{
		CurrentRef:   s.source.CurrentRef(ctx),
		Versions:     s.source.ListVersions(ctx, limit),
		AppDBVersion: s.appDBVersion,
		InProgress:   s.active.Load() > 0,
	}
	if len(st.Versions) > 0 {
		st.Latest = st.Versions[0]
		st.UpdateAvailable = st.CurrentRef != st.Latest
	}

	dbVersion, ok, err := s.settings.Get(ctx, settings.KeyDBVersion)
	if err != nil {
		return nil, apperrors.Internal("settings.get", err)
	}
	if ok {
		st.DBVersion = dbVersion
		st.DBUpdateRequired = s.appDBVersion != "" && dbVersion != s.appDBVersion
	}
	return st, nil
}
