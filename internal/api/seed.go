package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"flighthunter/internal/api/auth"
	"flighthunter/internal/model"
)

const demoEmail = "demo@flighthunter.local"

// SeedDemoData 初始化演示账号和一个演示追踪器，并在日志中输出演示令牌。
func (s *Server) SeedDemoData(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("store is not initialized")
	}
	user, err := s.db.EnsureUser(ctx, demoEmail)
	if err != nil {
		return fmt.Errorf("ensure demo user: %w", err)
	}

	count, err := s.db.CountTrackers(ctx, user.ID)
	if err != nil {
		return err
	}
	if count == 0 {
		start := model.TruncateDay(time.Now().UTC()).AddDate(0, 1, 0)
		percent := 10.0
		t := &model.Tracker{
			OwnerID:       user.ID,
			Name:          "Frankfurt → New York",
			Departures:    model.AirportList{"FRA"},
			Destinations:  model.AirportList{"JFK", "EWR"},
			WindowStart:   start,
			WindowEnd:     start.AddDate(0, 1, 0),
			TripDays:      7,
			Flexibility:   model.FlexPlusMinus1,
			Cabin:         model.CabinEconomy,
			Luggage:       model.LuggageNone,
			Passengers:    1,
			Cadence:       "DAILY",
			AlertPercent:  &percent,
			NotifyEnabled: false,
			Status:        model.StatusActive,
		}
		if err := model.ValidateTracker(t); err != nil {
			return err
		}
		if err := s.db.CreateTracker(ctx, t); err != nil {
			return fmt.Errorf("create demo tracker: %w", err)
		}
		s.logger.Info("demo tracker created", slog.Uint64("tracker_id", uint64(t.ID)))
	}

	token, err := auth.NewIssuer(s.cfg.Security.JWTSecret, auth.DefaultTTL).Issue(user.ID)
	if err != nil {
		return fmt.Errorf("issue demo token: %w", err)
	}
	s.logger.Info("demo account ready",
		slog.String("email", demoEmail),
		slog.Uint64("user_id", uint64(user.ID)),
		slog.String("token", token))
	return nil
}
