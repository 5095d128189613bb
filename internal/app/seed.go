package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	"github.com/vladislavdragonenkov/flashsale/internal/service/admission"
)

// seedData заводит стартовые купоны и демо-пользователя. Повторный запуск ничего не меняет.
func seedData(cfg Config, controller *admission.Controller, users domain.UserRepository, logger *log.Entry) error {
	coupons, err := ParseSeedCoupons(cfg.SeedCoupons)
	if err != nil {
		return err
	}
	for _, coupon := range coupons {
		if _, err := controller.Provision(coupon); err != nil {
			if errors.Is(err, domain.ErrCouponAlreadyExists) {
				logger.WithField("code", coupon.Code).Debug("seed coupon already provisioned")
				continue
			}
			return fmt.Errorf("seed coupon %s: %w", coupon.Code, err)
		}
	}

	userID := strings.TrimSpace(cfg.SeedUserID)
	if userID == "" {
		return nil
	}
	err = users.Create(domain.User{
		ID:        userID,
		Email:     cfg.SeedUserEmail,
		CreatedAt: time.Now().UTC(),
	})
	switch {
	case err == nil:
		logger.WithFields(log.Fields{"user_id": userID, "email": cfg.SeedUserEmail}).Info("seed user created")
	case errors.Is(err, domain.ErrUserAlreadyExists):
	default:
		return fmt.Errorf("seed user %s: %w", userID, err)
	}
	return nil
}
