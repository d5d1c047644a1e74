package store

import (
	"context"
	"database/sql"

	"warboard/internal/domain"
)

// CoachingCounter names one of the per-day nudge counters.
type CoachingCounter string

const (
	CounterSent     CoachingCounter = "sent"
	CounterAccepted CoachingCounter = "accepted"
	CounterSnoozed  CoachingCounter = "snoozed"
	CounterRejected CoachingCounter = "rejected"
)

func (s Store) GetCoachingDay(ctx context.Context, memberID, day string) (domain.CoachingDay, error) {
	var (
		cd    domain.CoachingDay
		types string
	)
	err := s.DB.QueryRowContext(ctx, `SELECT member_id,day,sent,accepted,snoozed,rejected,types FROM coaching_days WHERE member_id=? AND day=?`, memberID, day).
		Scan(&cd.MemberID, &cd.Day, &cd.Sent, &cd.Accepted, &cd.Snoozed, &cd.Rejected, &types)
	if err == sql.ErrNoRows {
		return domain.CoachingDay{MemberID: memberID, Day: day}, ErrNotFound
	}
	if err != nil {
		return cd, err
	}
	cd.Types = fromJSONList(types)
	return cd, nil
}

// BumpCoaching increments one counter for (member, day), creating the
// row on first use. nudgeType, when non-empty, is appended to the day's
// type list.
func (s Store) BumpCoaching(ctx context.Context, memberID, day string, counter CoachingCounter, nudgeType string) error {
	switch counter {
	case CounterSent, CounterAccepted, CounterSnoozed, CounterRejected:
	default:
		return ErrNotFound
	}
	cd, err := s.GetCoachingDay(ctx, memberID, day)
	if err != nil && err != ErrNotFound {
		return err
	}
	types := cd.Types
	if nudgeType != "" {
		types = mergeIDs(types, []string{nudgeType})
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO coaching_days(member_id,day,`+string(counter)+`,types) VALUES (?,?,1,?)
ON CONFLICT(member_id,day) DO UPDATE SET `+string(counter)+`=`+string(counter)+`+1, types=excluded.types`,
		memberID, day, toJSONList(types))
	return err
}

func (s Store) MuteNudge(ctx context.Context, memberID, nudgeType, mutedAt string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO coaching_mutes(member_id,nudge_type,muted_at) VALUES (?,?,?)
ON CONFLICT(member_id,nudge_type) DO UPDATE SET muted_at=excluded.muted_at`, memberID, nudgeType, mutedAt)
	return err
}

func (s Store) IsMuted(ctx context.Context, memberID, nudgeType string) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx, `SELECT 1 FROM coaching_mutes WHERE member_id=? AND nudge_type=?`, memberID, nudgeType).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
