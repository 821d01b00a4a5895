package bidding

import (
	"context"
	"time"

	"github.com/toivape/nauction/internal/metrics"
	"github.com/toivape/nauction/shared/models"
)

// RunRenewalSweep gives expired auctions without bids another
// RenewalPeriodDays. Running it again the same day renews nothing.
func (s *Service) RunRenewalSweep(ctx context.Context) (int64, error) {
	today := s.today()
	newDeadline := today.AddDate(0, 0, models.RenewalPeriodDays)

	renewed, err := s.store.RenewExpired(ctx, today, newDeadline)
	if err != nil {
		s.logger.Error("renewal sweep failed", "error", err)
		return 0, storageError("renew expired auctions", err)
	}

	metrics.RenewedAuctions.Add(float64(renewed))
	s.logger.Info("renewed expired auctions",
		"renewed", renewed,
		"new_deadline", newDeadline.Format(time.DateOnly))
	return renewed, nil
}
