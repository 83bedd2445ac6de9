package services

import (
	"context"
	"fmt"

	"emoney-portal/internal/platform"
	"emoney-portal/internal/status"
	"emoney-portal/models"
)

type ProfileService struct {
	api PlatformAPI
}

func NewProfileService(api PlatformAPI) *ProfileService {
	return &ProfileService{api: api}
}

// Profile loads the merchant snapshot (account number, balance) for sess.
func (s *ProfileService) Profile(ctx context.Context, sess *models.Session) (*models.MerchantProfile, error) {
	if sess.MerchantCode == "" {
		return nil, status.ErrNotMerchant
	}

	var profile models.MerchantProfile
	if err := s.api.Get(ctx, platform.CallerFor(sess), platform.PathMerchantProfile, nil, &profile); err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if profile.MerchantCode == "" {
		profile.MerchantCode = sess.MerchantCode
	}
	return &profile, nil
}
